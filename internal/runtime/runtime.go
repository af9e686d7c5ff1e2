package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// ErrAlreadyLocked reports that another instance holds the process
// lock; callers match it with errors.Is.
var ErrAlreadyLocked = errors.New("runtime already active")

const (
	defaultLockFilename = ".mdc.lock"

	envLockPath  = "MDC_RUNTIME_LOCK_PATH"
	envAutoStart = "MDC_RUNTIME_AUTO_START"
)

// handledSignals all trigger a graceful stop followed by re-delivery
// of the signal's default behavior.
var handledSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
	syscall.SIGQUIT,
}

// Options configures a Runtime.
type Options struct {
	// LockPath is the process lock file location. Empty falls back to
	// the MDC_RUNTIME_LOCK_PATH environment variable, then to
	// .mdc.lock in the working directory.
	LockPath string

	// AutoStart reports whether the process entry point should start
	// the runtime immediately. Nil falls back to the
	// MDC_RUNTIME_AUTO_START environment variable, then to true.
	AutoStart *bool
}

type collectorEntry struct {
	name  string
	start func() error
	stop  func() error
}

// Runtime coordinates startup and shutdown of all registered ingestion
// activity and guarantees at most one live process instance.
type Runtime struct {
	lockPath string
	auto     bool
	logger   *slog.Logger

	mu                sync.Mutex
	running           bool
	lock              *flock.Flock
	shutdownReason    string
	collectors        []collectorEntry
	collectorsStarted bool
	readers           map[string]string
	tasks             []any
	cleanups          []func() error
	sigCh             chan os.Signal
	sigDone           chan struct{}
	doneCh            chan struct{}
}

// New creates a Runtime. Nothing is locked or installed until Start.
func New(opts Options, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		lockPath: resolveLockPath(opts.LockPath),
		auto:     resolveAutoStart(opts.AutoStart),
		logger:   logger,
		readers:  make(map[string]string),
	}
}

func resolveLockPath(candidate string) string {
	if candidate == "" {
		candidate = os.Getenv(envLockPath)
	}
	if candidate == "" {
		candidate = defaultLockFilename
	}
	if abs, err := filepath.Abs(candidate); err == nil {
		candidate = abs
	}
	return candidate
}

func resolveAutoStart(flag *bool) bool {
	if flag != nil {
		return *flag
	}
	switch strings.ToLower(strings.TrimSpace(os.Getenv(envAutoStart))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return true
}

// AutoStart reports whether the entry point should call Start without
// waiting for a reader.
func (r *Runtime) AutoStart() bool { return r.auto }

// LockPath returns the resolved lock file path.
func (r *Runtime) LockPath() string { return r.lockPath }

// Start acquires the process lock and installs signal handlers. A
// second Start while running is a no-op; a lock conflict (another
// instance holds the file) is fatal and returned to the caller.
func (r *Runtime) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startLocked()
}

func (r *Runtime) startLocked() error {
	if r.running {
		r.logger.Debug("runtime already running, start ignored")
		return nil
	}

	if err := r.acquireLock(); err != nil {
		return err
	}

	r.sigCh = make(chan os.Signal, 1)
	r.sigDone = make(chan struct{})
	signal.Notify(r.sigCh, handledSignals...)
	go r.watchSignals(r.sigCh, r.sigDone)

	r.running = true
	r.shutdownReason = ""
	r.doneCh = make(chan struct{})

	r.logger.Info("runtime started", "pid", os.Getpid(), "lock", r.lockPath)

	if len(r.readers) > 0 {
		r.startCollectors()
	}
	return nil
}

// Stop shuts everything down in order: collectors (reverse
// registration order), tracked background tasks, cleanup callbacks,
// signal handlers, and finally the process lock, which is deleted.
// Every callback error is logged and isolated; shutdown always runs to
// completion. Stop while not running is a no-op.
func (r *Runtime) Stop(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running && r.lock == nil {
		r.logger.Debug("runtime not running, stop ignored")
		return
	}

	if reason != "" {
		r.shutdownReason = reason
	}

	r.stopCollectors()
	r.cancelTasks()
	r.runCleanups()

	if r.sigCh != nil {
		signal.Stop(r.sigCh)
		close(r.sigDone)
		r.sigCh = nil
		r.sigDone = nil
	}

	r.releaseLock()

	r.running = false
	r.collectorsStarted = false
	r.readers = make(map[string]string)

	if r.doneCh != nil {
		close(r.doneCh)
		r.doneCh = nil
	}

	r.logger.Info("runtime stopped", "reason", r.shutdownReason)
}

// Running reports whether Start has completed without a matching Stop.
func (r *Runtime) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Done returns a channel closed when the runtime stops. A runtime that
// is not running returns an already-closed channel.
func (r *Runtime) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.doneCh == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return r.doneCh
}

// ActiveReaders returns the number of outstanding reader tokens.
func (r *Runtime) ActiveReaders() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.readers)
}

// RegisterCollector adds a named start/stop pair. If collectors are
// already active the new one is started immediately; if readers are
// waiting on a first collector, the whole group starts.
func (r *Runtime) RegisterCollector(name string, start, stop func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-registering replaces the callbacks in place, keeping the
	// original position in the stop order.
	for i := range r.collectors {
		if r.collectors[i].name == name {
			r.collectors[i] = collectorEntry{name: name, start: start, stop: stop}
			return
		}
	}
	r.collectors = append(r.collectors, collectorEntry{name: name, start: start, stop: stop})
	r.logger.Debug("collector registered", "name", name)

	if r.collectorsStarted && start != nil {
		r.invoke(start, "start collector "+name)
	} else if len(r.readers) > 0 && !r.collectorsStarted {
		r.startCollectors()
	}
}

// UnregisterCollector removes a collector, stopping it first if the
// group is active.
func (r *Runtime) UnregisterCollector(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.collectors {
		if r.collectors[i].name != name {
			continue
		}
		entry := r.collectors[i]
		r.collectors = append(r.collectors[:i], r.collectors[i+1:]...)
		if r.collectorsStarted && entry.stop != nil {
			r.invoke(entry.stop, "stop collector "+name)
		}
		r.logger.Debug("collector unregistered", "name", name)
		return
	}
}

// RegisterTask tracks a background task so it can be cancelled on
// shutdown. The task may expose Cancel(), Stop(), or be a plain func.
func (r *Runtime) RegisterTask(task any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
}

// UnregisterTask removes a previously tracked task.
func (r *Runtime) UnregisterTask(task any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.tasks {
		if taskEqual(r.tasks[i], task) {
			r.tasks = append(r.tasks[:i], r.tasks[i+1:]...)
			return
		}
	}
}

// taskEqual matches a tracked task against a candidate. Funcs are not
// comparable with ==, so they match on code pointer; everything else
// uses plain equality when its type allows it.
func taskEqual(a, b any) bool {
	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	if av.Type() != bv.Type() {
		return false
	}
	if av.Kind() == reflect.Func {
		return av.Pointer() == bv.Pointer()
	}
	if av.Type().Comparable() {
		return a == b
	}
	return false
}

// RegisterCleanup adds a callback run during shutdown, after tasks are
// cancelled.
func (r *Runtime) RegisterCleanup(cb func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanups = append(r.cleanups, cb)
}

// AcquireReader registers an active consumer, starting the runtime and
// the collector group if needed, and returns an opaque token.
func (r *Runtime) AcquireReader(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		if err := r.startLocked(); err != nil {
			return "", err
		}
	}

	token := uuid.NewString()
	r.readers[token] = name

	r.logger.Debug("reader acquired", "name", name, "active", len(r.readers))

	if !r.collectorsStarted {
		r.startCollectors()
	}
	return token, nil
}

// ReleaseReader drops a token; the collector group stops once no
// readers remain. An unknown token is ignored.
func (r *Runtime) ReleaseReader(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name, ok := r.readers[token]
	if !ok {
		r.logger.Debug("release of unknown reader token", "token", token)
		return
	}
	delete(r.readers, token)

	r.logger.Debug("reader released", "name", name, "remaining", len(r.readers))

	if len(r.readers) == 0 {
		r.stopCollectors()
	}
}

// WithReader runs fn under a reader token, guaranteeing release on
// every exit path.
func (r *Runtime) WithReader(name string, fn func() error) error {
	token, err := r.AcquireReader(name)
	if err != nil {
		return err
	}
	defer r.ReleaseReader(token)
	return fn()
}

func (r *Runtime) startCollectors() {
	if r.collectorsStarted {
		return
	}
	if len(r.collectors) > 0 {
		r.logger.Debug("starting collectors", "count", len(r.collectors))
	}
	for _, c := range r.collectors {
		if c.start != nil {
			r.invoke(c.start, "start collector "+c.name)
		}
	}
	r.collectorsStarted = true
}

func (r *Runtime) stopCollectors() {
	if !r.collectorsStarted {
		return
	}
	if len(r.collectors) > 0 {
		r.logger.Debug("stopping collectors", "count", len(r.collectors))
	}
	// Reverse registration order.
	for i := len(r.collectors) - 1; i >= 0; i-- {
		if c := r.collectors[i]; c.stop != nil {
			r.invoke(c.stop, "stop collector "+c.name)
		}
	}
	r.collectorsStarted = false
}

func (r *Runtime) cancelTasks() {
	for _, task := range r.tasks {
		switch t := task.(type) {
		case interface{ Cancel() }:
			t.Cancel()
		case interface{ Stop() }:
			t.Stop()
		case context.CancelFunc:
			t()
		case func():
			t()
		default:
			r.logger.Warn("registered task has no cancel mechanism",
				"task", fmt.Sprintf("%T", task))
		}
	}
	r.tasks = nil
}

func (r *Runtime) runCleanups() {
	for _, cb := range r.cleanups {
		r.invoke(cb, "runtime cleanup")
	}
	r.cleanups = nil
}

// invoke runs a lifecycle callback, logging and swallowing its error
// so one failure never aborts the remaining steps.
func (r *Runtime) invoke(cb func() error, description string) {
	if err := cb(); err != nil {
		r.logger.Error("lifecycle callback failed", "step", description, "err", err)
	}
}

// watchSignals stops the runtime on the first handled signal, then
// re-delivers the signal's default behavior so the process exits with
// the conventional status.
func (r *Runtime) watchSignals(sigCh chan os.Signal, done chan struct{}) {
	select {
	case <-done:
		return
	case sig := <-sigCh:
		r.logger.Info("received signal, initiating shutdown", "signal", sig.String())
		r.Stop("signal:" + sig.String())
		signal.Reset(sig)
		if s, ok := sig.(syscall.Signal); ok {
			syscall.Kill(os.Getpid(), s)
		}
	}
}

func (r *Runtime) acquireLock() error {
	if r.lock != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(r.lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}

	lock := flock.New(r.lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire process lock %s: %w", r.lockPath, err)
	}
	if !locked {
		return fmt.Errorf("%w (lock file: %s)", ErrAlreadyLocked, r.lockPath)
	}

	// The lock file doubles as a pid file.
	if err := os.WriteFile(r.lockPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		lock.Unlock()
		return fmt.Errorf("write pid to lock file: %w", err)
	}

	r.lock = lock
	return nil
}

func (r *Runtime) releaseLock() {
	if r.lock == nil {
		return
	}
	if err := r.lock.Unlock(); err != nil {
		r.logger.Debug("failed to unlock process lock", "err", err)
	}
	r.lock = nil

	if err := os.Remove(r.lockPath); err != nil && !os.IsNotExist(err) {
		r.logger.Debug("failed to remove lock file", "err", err)
	}
}
