package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"agromarket/internal/backendtest"
	"agromarket/internal/domain/entity"
	"agromarket/internal/gateway"
	"agromarket/internal/usecase"
	"agromarket/pkg/config"
)

// The demo boots the in-memory backend on a local port and walks one
// order through its whole life from both sides of the marketplace.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	backend := backendtest.NewServer()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatalf("Failed to bind demo backend: %v", err)
	}
	go func() {
		if err := http.Serve(listener, backend.Handler()); err != nil {
			log.Printf("demo backend stopped: %v", err)
		}
	}()

	cfg.APIBaseURL = "http://" + listener.Addr().String()
	cfg.StreamURL = "ws://" + listener.Addr().String() + "/ws"

	backend.AddOrder(entity.Order{
		ID:                1,
		Code:              "ORD-2081",
		Status:            entity.StatusPendingReview,
		Total:             84.00,
		Subtotal:          80.00,
		UnitPrice:         16.00,
		QuantityRequested: 5,
		RecipientName:     "Nadia",
		AddressLine1:      "Jl. Pasar Minggu 12",
	}, "buyer-1", "prod-1")
	backend.AddNotification("buyer-1", entity.Notification{
		Title:        "Welcome",
		Message:      "Your storefront account is ready",
		RelatedRoute: "/home",
	})

	gw := gateway.NewHTTPGateway(cfg)
	buyer := entity.NewSession("buyer-1", entity.RoleBuyer, backend.Token("buyer-1", entity.RoleBuyer, time.Hour), nil)
	producer := entity.NewSession("prod-1", entity.RoleProducer, backend.Token("prod-1", entity.RoleProducer, time.Hour), nil)

	ctx := context.Background()

	buyerStore := usecase.NewOrderStore(gw, buyer)
	orders, err := buyerStore.ListMine(ctx)
	if err != nil {
		log.Fatalf("Failed to list orders: %v", err)
	}
	for _, o := range orders {
		fmt.Printf("buyer sees %s  %-32s total %.2f\n", o.Code, o.Status, o.Total)
	}

	producerStore := usecase.NewOrderStore(gw, producer)
	if _, err := producerStore.ListForProducer(ctx, gateway.FilterPending); err != nil {
		log.Fatalf("Failed to list producer orders: %v", err)
	}

	agg := producerStore.Aggregate("ORD-2081")
	if err := agg.Load(ctx); err != nil {
		log.Fatalf("Failed to load order: %v", err)
	}
	if err := agg.Accept(ctx, "harvest goes out thursday"); err != nil {
		log.Fatalf("Failed to accept order: %v", err)
	}
	fmt.Printf("producer accepted, order now %s\n", agg.Order().Status)

	buyerAgg := buyerStore.Aggregate("ORD-2081")
	if err := buyerAgg.Load(ctx); err != nil {
		log.Fatalf("Failed to refresh order: %v", err)
	}
	if err := buyerAgg.UploadPayment(ctx, gateway.PaymentUpload{
		FileName:    "transfer.png",
		ContentType: "image/png",
		Size:        4,
		Content:     strings.NewReader("demo"),
	}); err != nil {
		log.Fatalf("Failed to upload payment: %v", err)
	}
	fmt.Printf("buyer paid, order now %s\n", buyerAgg.Order().Status)

	chat := usecase.NewChatSession(gw, buyer, "ORD-2081")
	if err := chat.LoadInitial(ctx); err != nil {
		log.Fatalf("Failed to open chat: %v", err)
	}
	if err := chat.Connect(ctx); err != nil {
		log.Fatalf("Failed to connect chat: %v", err)
	}
	if err := chat.Send(ctx, "When will it ship?"); err != nil {
		log.Fatalf("Failed to send chat message: %v", err)
	}
	backend.AddMessage("ORD-2081", "prod-1", entity.SenderProducer, "Packing now, ships tomorrow")
	time.Sleep(300 * time.Millisecond)
	for _, m := range chat.Messages() {
		who := string(m.SenderType)
		if m.IsMine {
			who = "me"
		}
		fmt.Printf("chat [%s] %s\n", who, m.Message)
	}
	chat.Close()

	feed := usecase.NewBadgeFeed(gw, buyer)
	if err := feed.LoadUnread(ctx, usecase.BadgeFeedCap); err != nil {
		log.Fatalf("Failed to load notifications: %v", err)
	}
	fmt.Printf("unread notifications: %d\n", feed.UnreadCount())

	listener.Close()
}
