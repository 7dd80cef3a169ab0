// Package businessflow contains the engraving workflows built on the ledger, packer and placement engine
package businessflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/placement"
)

// Business flow error constants
var (
	// Ledger and counters
	ErrCapacityExhausted            = errors.New("serial number space exhausted")
	ErrConcurrentAllocationConflict = errors.New("concurrent allocation conflict")
	ErrInvalidSerialRange           = errors.New("invalid serial range")
	ErrSerialNotFound               = errors.New("serial not found")

	// Element configuration
	ErrMissingElementConfig = placement.ErrMissingElementConfig
	ErrInvalidElementConfig = errors.New("invalid element configuration")

	// Batches
	ErrBatchNotFound       = errors.New("batch not found")
	ErrBatchNotInProgress  = errors.New("batch is not in progress")
	ErrBatchHasPendingRows = errors.New("batch still has pending module rows")
	ErrModuleRowNotFound   = errors.New("module row not found")
	ErrModuleRowNotPending = errors.New("module row is not pending")
	ErrNoEligibleModules   = errors.New("no eligible modules to engrave")
	ErrArrayNotFound       = errors.New("array not found in batch")
	ErrInvalidPacking      = errors.New("invalid packing options")

	// Optical decode
	ErrVisionNotConfigured = errors.New("vision service not configured")
	ErrInvalidImage        = errors.New("invalid image")
)

// BusinessError represents a business logic error with additional context
type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

// CapacityExhaustedError reports a reservation that would pass the last serial
type CapacityExhaustedError struct {
	Requested int64
	Remaining int64
}

func (e *CapacityExhaustedError) Error() string {
	return fmt.Sprintf("requested %d serials but only %d remain", e.Requested, e.Remaining)
}

func (e *CapacityExhaustedError) Unwrap() error { return ErrCapacityExhausted }

// MissingConfig is one unresolved element tuple and the modules blocked by it
type MissingConfig struct {
	Design      string             `json:"design"`
	Revision    string             `json:"revision"`
	Position    int                `json:"position"`
	ElementType models.ElementType `json:"element_type"`
	SKUs        []string           `json:"skus"`
}

// MissingElementConfigError lists every tuple that blocks batch creation
type MissingElementConfigError struct {
	Missing []MissingConfig
}

func (e *MissingElementConfigError) Error() string {
	parts := make([]string, 0, len(e.Missing))
	for _, m := range e.Missing {
		parts = append(parts, fmt.Sprintf("%s rev %s position %d %s (needed by %s)",
			m.Design, m.Revision, m.Position, m.ElementType, strings.Join(m.SKUs, ", ")))
	}
	return "missing element configuration: " + strings.Join(parts, "; ")
}

func (e *MissingElementConfigError) Unwrap() error { return ErrMissingElementConfig }

// missingCollector aggregates unresolved tuples in a stable order.
type missingCollector struct {
	index map[placement.Key]int
	items []MissingConfig
}

func (c *missingCollector) add(key placement.Key, sku string) {
	if c.index == nil {
		c.index = make(map[placement.Key]int)
	}
	i, ok := c.index[key]
	if !ok {
		i = len(c.items)
		c.index[key] = i
		c.items = append(c.items, MissingConfig{
			Design:      key.Design,
			Revision:    models.RevisionLabel(&key.Revision),
			Position:    key.Position,
			ElementType: key.ElementType,
		})
	}
	for _, s := range c.items[i].SKUs {
		if s == sku {
			return
		}
	}
	c.items[i].SKUs = append(c.items[i].SKUs, sku)
}

func (c *missingCollector) err() error {
	if len(c.items) == 0 {
		return nil
	}
	items := append([]MissingConfig(nil), c.items...)
	sort.SliceStable(items, func(a, b int) bool {
		if items[a].Design != items[b].Design {
			return items[a].Design < items[b].Design
		}
		if items[a].Position != items[b].Position {
			return items[a].Position < items[b].Position
		}
		return items[a].ElementType < items[b].ElementType
	})
	return &MissingElementConfigError{Missing: items}
}

func IsCapacityExhausted(err error) bool {
	return errors.Is(err, ErrCapacityExhausted)
}

func IsMissingElementConfig(err error) bool {
	return errors.Is(err, ErrMissingElementConfig)
}

func IsBatchNotFound(err error) bool {
	return errors.Is(err, ErrBatchNotFound)
}

func IsBatchNotInProgress(err error) bool {
	return errors.Is(err, ErrBatchNotInProgress)
}
