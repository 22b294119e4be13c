// Package workflow implements the token lifecycle orchestrator. A tokenization
// request is submitted to the driver synchronously; everything after the
// submit acknowledgment runs detached from the originating HTTP request:
// polling the driver for on-chain transaction confirmation, registering the
// minted token's metadata with the registry, optionally waiting out the
// registry's staging area, patching the unit record with the token's asset id,
// and committing the staging transaction.
//
// A run moves through these states, each logged as it is entered:
//
//	requested -> submitted -> awaiting_tx_confirmation -> tx_confirmed
//	          -> awaiting_warehouse_update -> done
//
// with two terminal failure states: abandoned (a confirmation-polling phase
// exhausted its attempt budget) and failed (a remote call errored outside
// polling). There is no compensation: a run that dies between the driver mint
// and the registry patch leaves the token minted and the unit unpatched, and
// the only record of it is the structured log and the terminal-state counter.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ahwei/Climate-Tokenization-Engine/internal/driver"
	"github.com/ahwei/Climate-Tokenization-Engine/internal/registry"
	"github.com/ahwei/Climate-Tokenization-Engine/internal/safego"
	"github.com/ahwei/Climate-Tokenization-Engine/internal/telemetry"
)

// Run states, used in logs and the tokenization_runs_total metric.
const (
	StateRequested              = "requested"
	StateSubmitted              = "submitted"
	StateAwaitingTxConfirmation = "awaiting_tx_confirmation"
	StateTxConfirmed            = "tx_confirmed"
	StateAwaitingWarehouse      = "awaiting_warehouse_update"
	StateDone                   = "done"
	StateAbandoned              = "abandoned"
	StateFailed                 = "failed"
)

// TokenMinter is the driver-side surface the orchestrator needs.
type TokenMinter interface {
	CreateToken(ctx context.Context, req *driver.CreateTokenRequest) (*driver.TokenCreationRecord, error)
	TransactionConfirmed(ctx context.Context, txID string) (bool, error)
}

// UnitRegistry is the registry-side surface the orchestrator needs.
type UnitRegistry interface {
	RegisterTokenMetadata(ctx context.Context, assetID, tokenJSON string) (string, error)
	StagingConfirmed(ctx context.Context) (bool, error)
	GetUnitByWarehouseID(ctx context.Context, warehouseUnitID string) (*registry.Unit, error)
	UpdateUnit(ctx context.Context, patch *registry.UnitPatch) error
	CommitStaging(ctx context.Context) error
}

// Request is a caller-supplied tokenization request, already validated at the
// HTTP boundary.
type Request struct {
	OrgUID             string
	WarehouseProjectID string
	VintageYear        int
	SequenceNum        int
	ToAddress          string
	Amount             int
	WarehouseUnitID    string
}

// Payment parameters sent with every mint. The driver currently prices all
// mints identically regardless of the requested amount.
// TODO: derive the payment from Request.Amount once the driver supports
// caller-priced mints.
const (
	paymentAmount = 100
	paymentFee    = 100
)

// Orchestrator runs tokenization workflows. Detached phases are tracked so
// Shutdown can wait for in-flight runs.
type Orchestrator struct {
	minter   TokenMinter
	registry UnitRegistry
	interval time.Duration
	attempts int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates an orchestrator polling with the given constant
// interval and per-phase attempt budget.
func NewOrchestrator(minter TokenMinter, reg UnitRegistry, interval time.Duration, attempts int) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		minter:   minter,
		registry: reg,
		interval: interval,
		attempts: attempts,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Submit sends the token-creation request to the driver and, on acceptance,
// launches the detached confirmation-and-reconciliation phases. The error
// return covers only the synchronous submit: once Submit returns nil the
// caller gets no further signal about the run except logs and metrics.
func (o *Orchestrator) Submit(ctx context.Context, req *Request) error {
	slog.Info("tokenization requested",
		"state", StateRequested,
		"warehouseUnitId", req.WarehouseUnitID,
		"warehouseProjectId", req.WarehouseProjectID,
	)

	createReq := &driver.CreateTokenRequest{
		Token: driver.TokenDetails{
			OrgUID:             req.OrgUID,
			WarehouseProjectID: req.WarehouseProjectID,
			VintageYear:        req.VintageYear,
			SequenceNum:        req.SequenceNum,
		},
		Payment: driver.Payment{
			Amount: paymentAmount,
			Fee:    paymentFee,
		},
		ToAddress: req.ToAddress,
	}

	record, err := o.minter.CreateToken(ctx, createReq)
	if err != nil {
		return fmt.Errorf("token submission failed: %w", err)
	}

	slog.Info("tokenization submitted",
		"state", StateSubmitted,
		"warehouseUnitId", req.WarehouseUnitID,
		"assetId", record.Token.AssetID,
		"txId", record.Tx.ID,
	)

	o.wg.Add(1)
	safego.Go(func() {
		defer o.wg.Done()
		o.run(record, req)
	})
	return nil
}

// Shutdown cancels in-flight runs and waits for them to exit, bounded by ctx.
// Cancelled runs land in the failed or abandoned state like any other
// interrupted run; they are not resumed on restart.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tokenization runs still in flight: %w", ctx.Err())
	}
}

// run executes the detached phases of one workflow run. Terminal states are
// recorded in tokenization_runs_total; errors are logged and dropped since no
// caller is listening anymore.
func (o *Orchestrator) run(record *driver.TokenCreationRecord, req *Request) {
	assetID := record.Token.AssetID
	txID := record.Tx.ID

	slog.Info("awaiting transaction confirmation",
		"state", StateAwaitingTxConfirmation,
		"warehouseUnitId", req.WarehouseUnitID,
		"txId", txID,
	)
	if !o.pollUntilConfirmed("driver", func(ctx context.Context) (bool, error) {
		return o.minter.TransactionConfirmed(ctx, txID)
	}) {
		o.finish(StateAbandoned, req, assetID, "transaction never confirmed", nil)
		return
	}

	slog.Info("transaction confirmed",
		"state", StateTxConfirmed,
		"warehouseUnitId", req.WarehouseUnitID,
		"txId", txID,
	)

	tokenJSON, err := json.Marshal(record.Token)
	if err != nil {
		o.finish(StateFailed, req, assetID, "could not encode token metadata", err)
		return
	}

	message, err := o.registry.RegisterTokenMetadata(o.ctx, assetID, string(tokenJSON))
	if err != nil {
		o.finish(StateFailed, req, assetID, "metadata registration failed", err)
		return
	}

	// A "being updated" reply means the metadata write landed in the
	// registry's staging area; the unit patch must wait for it to clear.
	if strings.Contains(strings.ToLower(message), "being updated") {
		slog.Info("awaiting warehouse update",
			"state", StateAwaitingWarehouse,
			"warehouseUnitId", req.WarehouseUnitID,
			"registryMessage", message,
		)
		if !o.pollUntilConfirmed("registry", o.registry.StagingConfirmed) {
			o.finish(StateAbandoned, req, assetID, "staging never confirmed", nil)
			return
		}
	}

	unit, err := o.registry.GetUnitByWarehouseID(o.ctx, req.WarehouseUnitID)
	if err != nil {
		o.finish(StateFailed, req, assetID, "unit lookup failed", err)
		return
	}

	if err := o.registry.UpdateUnit(o.ctx, registry.NewUnitPatch(unit, assetID)); err != nil {
		o.finish(StateFailed, req, assetID, "unit update failed", err)
		return
	}

	if err := o.registry.CommitStaging(o.ctx); err != nil {
		o.finish(StateFailed, req, assetID, "staging commit failed", err)
		return
	}

	o.finish(StateDone, req, assetID, "unit tokenized", nil)
}

// errNotConfirmed marks a poll that got a well-formed "not yet" answer.
var errNotConfirmed = errors.New("not confirmed yet")

// pollUntilConfirmed polls check at a constant interval until it reports
// confirmation, the attempt budget is exhausted, or the orchestrator shuts
// down. Transport errors and "not yet" answers both consume one attempt; only
// an explicit positive confirmation stops polling early.
func (o *Orchestrator) pollUntilConfirmed(target string, check func(ctx context.Context) (bool, error)) bool {
	operation := func() error {
		telemetry.ConfirmationPollsTotal.WithLabelValues(target).Inc()

		confirmed, err := check(o.ctx)
		if err != nil {
			slog.Warn("confirmation poll errored", "target", target, "error", err)
			return err
		}
		if !confirmed {
			return errNotConfirmed
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(o.interval), uint64(o.attempts-1)),
		o.ctx,
	)
	return backoff.Retry(operation, policy) == nil
}

// finish records the terminal state of a run.
func (o *Orchestrator) finish(state string, req *Request, assetID, msg string, err error) {
	telemetry.TokenizationRunsTotal.WithLabelValues(state).Inc()

	attrs := []any{
		"state", state,
		"warehouseUnitId", req.WarehouseUnitID,
		"assetId", assetID,
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}

	switch state {
	case StateDone:
		slog.Info(msg, attrs...)
	default:
		slog.Error(msg, attrs...)
	}
}
