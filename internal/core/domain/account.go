package domain

type Role string

const (
	RoleBuyer    Role = "buyer"
	RoleProducer Role = "producer"
)

// Account is either a Buyer or a Producer. Dispatch with a type switch.
type Account interface {
	AccountID() string
	Role() Role
}

type Buyer struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	ShippingAddress string `json:"shipping_address"`
}

func (b Buyer) AccountID() string { return b.ID }
func (Buyer) Role() Role          { return RoleBuyer }

type Producer struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ApiaryName string `json:"apiary_name"`
}

func (p Producer) AccountID() string { return p.ID }
func (Producer) Role() Role          { return RoleProducer }

// IsBuyer reports whether acc is the buyer with the given id.
func IsBuyer(acc Account, id string) bool {
	b, ok := acc.(Buyer)
	return ok && b.ID == id
}

// IsProducer reports whether acc is the producer with the given id.
func IsProducer(acc Account, id string) bool {
	p, ok := acc.(Producer)
	return ok && p.ID == id
}
