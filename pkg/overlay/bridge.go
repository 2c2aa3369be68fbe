// Package overlay injects the in-page highlighting layer and bridges its
// callbacks back into the engine. The page side lives in highlight.js; the Go
// side validates every inbound payload before it can touch a draft.
package overlay

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/formbot/formbot/pkg/log"
	"github.com/formbot/formbot/pkg/models"

	"github.com/formbot/formbot/pkg/browser"
)

//go:embed highlight.js
var highlightScript string

// EventSink receives validated inbound events from the page. The editing
// session wires this into its draft mutation path.
type EventSink func(event *InboundEvent)

// SelectorResult is the outcome of probing a CSS selector on the live page.
type SelectorResult struct {
	Found      bool `json:"found"`
	MatchCount int  `json:"matchCount"`
}

// Bridge drives the overlay on one page. It installs the script, keeps it
// alive across navigations, and forwards commands from the engine.
type Bridge struct {
	page   browser.Page
	sink   EventSink
	logger *slog.Logger

	mu      sync.Mutex
	fields  []models.Field
	mode    models.EditingMode
	exposed bool
}

// NewBridge builds a bridge over page. Events decoded from the page are
// delivered to sink; a nil sink discards them.
func NewBridge(page browser.Page, sink EventSink, logger *slog.Logger) *Bridge {
	if sink == nil {
		sink = func(*InboundEvent) {}
	}
	return &Bridge{
		page:   page,
		sink:   sink,
		logger: log.WithModule(logger, "overlay"),
		mode:   models.ModeSelect,
	}
}

// Install exposes the host callbacks, injects the overlay and initializes it
// with the tracked fields. Safe to call again after navigation; the callbacks
// are only exposed once per page.
func (b *Bridge) Install(fields []models.Field) error {
	b.mu.Lock()
	b.fields = fields
	needExpose := !b.exposed
	b.mu.Unlock()

	if needExpose {
		if err := b.expose(); err != nil {
			return fmt.Errorf("exposing overlay callbacks: %w", err)
		}
		b.page.OnLoad(func() {
			if err := b.inject(); err != nil {
				b.logger.Warn("Overlay re-injection after load failed", "error", err)
			}
		})
		b.mu.Lock()
		b.exposed = true
		b.mu.Unlock()
	}

	return b.inject()
}

func (b *Bridge) expose() error {
	handlers := map[string]InboundKind{
		"onReady":             InboundReady,
		"onFieldSelected":     InboundSelected,
		"onFieldAdded":        InboundAdded,
		"onFieldRemoved":      InboundRemoved,
		"onFieldValueChanged": InboundValueChanged,
		"onSelectorAmbiguous": InboundAmbiguous,
	}
	for name, kind := range handlers {
		kind := kind
		err := b.page.ExposeFunction("__formbot_"+name, func(args ...any) any {
			if len(args) == 0 {
				return nil
			}
			raw, ok := args[0].(string)
			if !ok {
				b.logger.Warn("Overlay callback with non-string payload", "kind", kind)
				return nil
			}
			event, err := DecodeInbound(kind, raw)
			if err != nil {
				b.logger.Warn("Rejected overlay payload", "kind", kind, "error", err)
				return nil
			}
			b.sink(event)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *Bridge) inject() error {
	b.mu.Lock()
	fields := b.fields
	mode := b.mode
	b.mu.Unlock()

	if _, err := b.page.Evaluate(highlightScript); err != nil {
		return fmt.Errorf("injecting overlay script: %w", err)
	}

	fieldsJSON, err := marshalFields(fields)
	if err != nil {
		return err
	}
	expr := fmt.Sprintf("window.__FORMBOT_HIGHLIGHT.init(%s)", fieldsJSON)
	if _, err := b.page.Evaluate(expr); err != nil {
		return fmt.Errorf("initializing overlay: %w", err)
	}
	if mode != models.ModeSelect {
		return b.SetMode(mode)
	}
	return nil
}

// UpdateFields replaces the tracked field set and re-renders.
func (b *Bridge) UpdateFields(fields []models.Field) error {
	b.mu.Lock()
	b.fields = fields
	b.mu.Unlock()

	fieldsJSON, err := marshalFields(fields)
	if err != nil {
		return err
	}
	_, err = b.page.Evaluate(
		fmt.Sprintf("window.__FORMBOT_HIGHLIGHT.command_updateFields(%s)", fieldsJSON))
	return err
}

// SetMode switches the overlay interaction mode.
func (b *Bridge) SetMode(mode models.EditingMode) error {
	b.mu.Lock()
	b.mode = mode
	b.mu.Unlock()

	_, err := b.page.Evaluate(
		fmt.Sprintf("window.__FORMBOT_HIGHLIGHT.command_setMode(%q)", string(mode)))
	return err
}

// FocusField scrolls the field at index into view and flashes it.
func (b *Bridge) FocusField(index int) error {
	_, err := b.page.Evaluate(
		fmt.Sprintf("window.__FORMBOT_HIGHLIGHT.command_focusField(%d)", index))
	return err
}

// TestSelector probes selector on the live page and flashes any matches.
func (b *Bridge) TestSelector(selector string) (SelectorResult, error) {
	sel, err := json.Marshal(selector)
	if err != nil {
		return SelectorResult{}, err
	}
	raw, err := b.page.Evaluate(
		fmt.Sprintf("window.__FORMBOT_HIGHLIGHT.command_testSelector(%s)", sel))
	if err != nil {
		return SelectorResult{}, err
	}
	return decodeSelectorResult(raw)
}

// FillField writes value into the field at index through the overlay so that
// input and change events fire as they would for a user.
func (b *Bridge) FillField(index int, value string) error {
	val, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = b.page.Evaluate(
		fmt.Sprintf("window.__FORMBOT_HIGHLIGHT.command_fillField(%d, %s)", index, val))
	return err
}

// ReadFieldValue returns the live value of the field at index.
func (b *Bridge) ReadFieldValue(index int) (string, error) {
	raw, err := b.page.Evaluate(
		fmt.Sprintf("window.__FORMBOT_HIGHLIGHT.command_readFieldValue(%d)", index))
	if err != nil {
		return "", err
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("unexpected read result type %T", raw)
	}
	return value, nil
}

// Cleanup removes the overlay from the page. The exposed callbacks remain
// registered but go quiet once the page side is gone.
func (b *Bridge) Cleanup() error {
	_, err := b.page.Evaluate(
		"window.__FORMBOT_HIGHLIGHT && window.__FORMBOT_HIGHLIGHT.command_cleanup()")
	return err
}

// marshalFields produces the JSON shape highlight.js expects.
func marshalFields(fields []models.Field) (string, error) {
	shaped := make([]map[string]any, 0, len(fields))
	for _, field := range fields {
		shaped = append(shaped, map[string]any{
			"field_selector": field.Selector,
			"field_name":     field.Name,
			"field_type":     string(field.Type),
			"field_purpose":  string(field.Purpose),
		})
	}
	data, err := json.Marshal(shaped)
	if err != nil {
		return "", fmt.Errorf("marshaling overlay fields: %w", err)
	}
	return string(data), nil
}

func decodeSelectorResult(raw any) (SelectorResult, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return SelectorResult{}, fmt.Errorf("unexpected selector result type %T", raw)
	}
	result := SelectorResult{}
	if found, ok := obj["found"].(bool); ok {
		result.Found = found
	}
	switch count := obj["matchCount"].(type) {
	case float64:
		result.MatchCount = int(count)
	case int:
		result.MatchCount = count
	}
	return result, nil
}
