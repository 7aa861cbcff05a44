package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"bankchat/internal/ai"
)

// Handler executes one tool call. Failures come back as error values and
// the dispatcher turns them into in-band result strings so the model can
// recover instead of the turn aborting.
type Handler func(ctx context.Context, arguments json.RawMessage) (string, error)

// Descriptor binds a tool's schema to its handler.
type Descriptor struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
	Handler     Handler
}

// Dispatcher is a registry of callable tools. It implements ai.ToolExecutor.
type Dispatcher struct {
	mu    sync.RWMutex
	tools map[string]Descriptor
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{tools: make(map[string]Descriptor)}
}

func (d *Dispatcher) Register(desc Descriptor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tools[desc.Name] = desc
}

// Definitions returns the registered tool schemas in stable name order,
// ready to hand to the model.
func (d *Dispatcher) Definitions() []ai.ToolDefinition {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.tools))
	for name := range d.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]ai.ToolDefinition, 0, len(names))
	for _, name := range names {
		desc := d.tools[name]
		defs = append(defs, ai.ToolDefinition{
			Type: "function",
			Function: ai.FunctionSchema{
				Name:        desc.Name,
				Description: desc.Description,
				Parameters:  desc.Parameters,
			},
		})
	}
	return defs
}

// Execute runs the named tool. An unknown name or a handler failure is
// reported as a result string rather than an error so the conversation
// continues.
func (d *Dispatcher) Execute(ctx context.Context, name string, arguments json.RawMessage) string {
	d.mu.RLock()
	desc, ok := d.tools[name]
	d.mu.RUnlock()
	if !ok {
		logrus.WithField("tool", name).Warn("unknown tool requested")
		return fmt.Sprintf("Error: unknown tool %q", name)
	}

	result, err := desc.Handler(ctx, arguments)
	if err != nil {
		logrus.WithError(err).WithField("tool", name).Warn("tool execution failed")
		return fmt.Sprintf("Error: %s failed: %v", name, err)
	}
	logrus.WithField("tool", name).Debug("tool executed")
	return result
}
