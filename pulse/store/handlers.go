package store

import (
	"context"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/internal/httpclient"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/job"
)

// Invocation is what a handler receives for one execution.
type Invocation struct {
	Key          job.Key
	Name         string
	Payload      string
	ScheduledFor time.Time
}

// Handler runs the body of a stored job and returns a short result summary.
type Handler func(ctx context.Context, inv Invocation) (string, error)

// HandlerRegistry maps handler names stored with each job to their implementations.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlerRegistry returns an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for name.
func (r *HandlerRegistry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Get returns the handler for name.
func (r *HandlerRegistry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns every registered handler name, sorted.
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate returns a configuration error when name has no handler.
func (r *HandlerRegistry) Validate(name string) error {
	if _, ok := r.Get(name); ok {
		return nil
	}
	return errors.WithHintf(
		errors.Configurationf("unknown handler %q", name),
		"registered handlers: %v", r.Names())
}

// RegisterBuiltins adds the handlers every deployment has:
//
//	noop     does nothing
//	log      writes the payload to the log
//	exec     runs the payload as a command line, without a shell
//	webhook  posts the invocation to the URL in the payload
func RegisterBuiltins(r *HandlerRegistry, log *zap.SugaredLogger) {
	log = logger.ComponentLogger(log, "handler")
	r.Register("noop", func(context.Context, Invocation) (string, error) {
		return "", nil
	})
	r.Register("log", func(_ context.Context, inv Invocation) (string, error) {
		log.Infow("Scheduled job fired",
			logger.FieldJobID, inv.Key.ID,
			logger.FieldTenant, inv.Key.Tenant,
			logger.FieldScheduledFor, inv.ScheduledFor,
			"name", inv.Name,
			"payload", inv.Payload,
		)
		return "logged", nil
	})
	r.Register("exec", execHandler)
	r.Register("webhook", NewWebhookHandler(httpclient.New(httpclient.Options{})))
}

// maxResultLen bounds the command output kept as an execution result
const maxResultLen = 1024

// execHandler runs the payload as a command. Arguments are split with shell
// quoting rules but no shell is involved. Cancelling ctx kills the process.
func execHandler(ctx context.Context, inv Invocation) (string, error) {
	args, err := shellquote.Split(inv.Payload)
	if err != nil {
		return "", errors.Mark(errors.Wrapf(err, "parse command of %s", inv.Key), errors.ErrInvalidConfiguration)
	}
	if len(args) == 0 {
		return "", errors.Configurationf("job %s has an empty command", inv.Key)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = append(os.Environ(),
		"CADENCE_JOB_ID="+inv.Key.ID,
		"CADENCE_TENANT="+inv.Key.Tenant,
		"CADENCE_SCHEDULED_FOR="+inv.ScheduledFor.UTC().Format(time.RFC3339),
	)
	out, err := cmd.CombinedOutput()
	result := strings.TrimSpace(string(out))
	if len(result) > maxResultLen {
		result = result[:maxResultLen]
	}
	if err != nil {
		return result, errors.WithDetail(errors.Wrapf(err, "command %q", args[0]), result)
	}
	return result, nil
}
