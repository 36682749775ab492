package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/hive-market/internal/adapter/payment"
	"github.com/rl1809/hive-market/internal/app"
	"github.com/rl1809/hive-market/internal/config"
	"github.com/rl1809/hive-market/internal/core/domain"
	"github.com/rl1809/hive-market/internal/core/service"
)

const (
	initialStock  = 20
	totalBuyers   = 50
	concurrentPay = 100
)

func main() {
	configPath := flag.String("config", "", "optional config file; set redis.enabled to run against Redis")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg.Payment.Mode = "simulator"
	cfg.Payment.SimulatorLatency = 5 * time.Millisecond

	ctx := context.Background()
	a, err := app.New(ctx, cfg, nil)
	if err != nil {
		log.Fatalf("failed to build app: %v", err)
	}
	defer a.Close()

	sim := a.Payments.(*payment.Simulator)
	svc := a.Services

	producer, err := svc.Accounts.Register(ctx, service.RegisterAccountCommand{Role: domain.RoleProducer, Name: "stress-producer"})
	if err != nil {
		log.Fatalf("failed to register producer: %v", err)
	}
	item, err := svc.Catalog.CreateItem(ctx, producer, service.CreateItemCommand{
		GroupID:  "stress-hive",
		Name:     "stress-honey",
		Price:    decimal.NewFromInt(4),
		Quantity: decimal.NewFromInt(initialStock),
	})
	if err != nil {
		log.Fatalf("failed to list item: %v", err)
	}

	// every buyer checks out one jar, then all pay at once
	orders := make([]string, 0, totalBuyers)
	for i := 0; i < totalBuyers; i++ {
		buyer, err := svc.Accounts.Register(ctx, service.RegisterAccountCommand{Role: domain.RoleBuyer, Name: fmt.Sprintf("buyer-%d", i)})
		if err != nil {
			log.Fatalf("failed to register buyer: %v", err)
		}
		if _, err := svc.Carts.AddItem(ctx, buyer.AccountID(), item.ID, decimal.NewFromInt(1)); err != nil {
			log.Fatalf("failed to add to cart: %v", err)
		}
		order, err := svc.Orders.CreateFromCart(ctx, buyer.AccountID())
		if err != nil {
			log.Fatalf("failed to checkout: %v", err)
		}
		orders = append(orders, order.ID)
	}

	var fulfilled, shortfall, failed atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()
	for _, id := range orders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := svc.Orders.Pay(ctx, id)
			switch {
			case err == nil:
				fulfilled.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				shortfall.Add(1)
			default:
				failed.Add(1)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	final, err := svc.Catalog.Get(ctx, item.ID)
	if err != nil {
		log.Fatalf("failed to read stock: %v", err)
	}

	fmt.Println("========== STOCK STRESS TEST ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Paid Orders:      %d\n", totalBuyers)
	fmt.Printf("Fulfilled:        %d\n", fulfilled.Load())
	fmt.Printf("Shortfall:        %d\n", shortfall.Load())
	fmt.Printf("Failed:           %d\n", failed.Load())
	fmt.Printf("Final Stock:      %s\n", final.Quantity)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("=======================================")
	report(fulfilled.Load() == initialStock && shortfall.Load() == totalBuyers-initialStock,
		"exactly %d orders fulfilled", initialStock)
	report(final.Quantity.IsZero(), "stock depleted to 0 and never negative")

	// one order, many concurrent pay calls
	buyer, err := svc.Accounts.Register(ctx, service.RegisterAccountCommand{Role: domain.RoleBuyer, Name: "double-payer"})
	if err != nil {
		log.Fatalf("failed to register buyer: %v", err)
	}
	restocked, err := svc.Catalog.Restock(ctx, producer, item.ID, decimal.NewFromInt(1))
	if err != nil {
		log.Fatalf("failed to restock: %v", err)
	}
	if _, err := svc.Carts.AddItem(ctx, buyer.AccountID(), restocked.ID, decimal.NewFromInt(1)); err != nil {
		log.Fatalf("failed to add to cart: %v", err)
	}
	order, err := svc.Orders.CreateFromCart(ctx, buyer.AccountID())
	if err != nil {
		log.Fatalf("failed to checkout: %v", err)
	}

	before := sim.Charges()
	var payErrors atomic.Int32
	for i := 0; i < concurrentPay; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.Orders.Pay(ctx, order.ID); err != nil {
				payErrors.Add(1)
			}
		}()
	}
	wg.Wait()

	fmt.Println("========== DOUBLE PAY STRESS TEST ==========")
	fmt.Printf("Pay Calls:        %d\n", concurrentPay)
	fmt.Printf("Charges:          %d\n", sim.Charges()-before)
	fmt.Printf("Errors:           %d\n", payErrors.Load())
	fmt.Println("============================================")
	report(sim.Charges()-before == 1 && payErrors.Load() == 0, "order charged exactly once")
}

func report(ok bool, format string, args ...any) {
	if ok {
		fmt.Printf("PASS: "+format+"\n", args...)
		return
	}
	fmt.Printf("FAIL: "+format+"\n", args...)
}
