package events

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pivot-protocol/walletcore/core"
	"github.com/pivot-protocol/walletcore/ports"
)

const (
	// LogoutTopic carries session invalidation events.
	LogoutTopic = "pivot.auth.logout"

	// ConnectionTopic carries wallet connection-state changes.
	ConnectionTopic = "pivot.wallet.connection"

	// TransactionTopic carries transaction status transitions.
	TransactionTopic = "pivot.tx.status"
)

// LogoutEvent is published when a session is destroyed.
type LogoutEvent struct {
	Address string `json:"address"`
	Reason  string `json:"reason"`
}

// ConnectionEvent is published on every wallet connection-state change.
type ConnectionEvent struct {
	Connected   bool   `json:"connected"`
	Address     string `json:"address,omitempty"`
	ChainID     string `json:"chainId,omitempty"`
	WalletLabel string `json:"walletLabel,omitempty"`
	Balance     string `json:"balance,omitempty"`
}

// TransactionEvent is published on every tracked status transition.
type TransactionEvent struct {
	Hash          string `json:"hash"`
	Status        string `json:"status"`
	Confirmations uint64 `json:"confirmations"`
	Error         string `json:"error,omitempty"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill.
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher.
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishLogout publishes a logout event.
func (p *WatermillPublisher) PublishLogout(ctx context.Context, address string, reason string) error {
	return p.publish(LogoutTopic, LogoutEvent{Address: address, Reason: reason})
}

// PublishConnection publishes a connection-state change.
func (p *WatermillPublisher) PublishConnection(ctx context.Context, state core.ConnectionState) error {
	event := ConnectionEvent{
		Connected:   state.Connected,
		ChainID:     state.ChainID,
		WalletLabel: state.WalletLabel,
	}
	if state.Connected {
		event.Address = state.Address.Hex()
	}
	if state.Balance != nil {
		event.Balance = new(big.Int).Set(state.Balance).String()
	}
	return p.publish(ConnectionTopic, event)
}

// PublishTransaction publishes a transaction status transition.
func (p *WatermillPublisher) PublishTransaction(ctx context.Context, record core.TransactionRecord) error {
	event := TransactionEvent{
		Hash:          record.Hash.Hex(),
		Status:        string(record.Status),
		Confirmations: record.Confirmations,
		Error:         record.Error,
	}
	return p.publish(TransactionTopic, event)
}

func (p *WatermillPublisher) publish(topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.New().String(), payload)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}
