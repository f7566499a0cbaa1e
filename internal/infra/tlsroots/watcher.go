package tlsroots

import (
	"crypto/tls"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/yndnr/rollmesh-go/internal/telemetry/logger"
)

// DefaultDebounce coalesces the burst of events a certificate rotation
// produces.
const DefaultDebounce = 500 * time.Millisecond

// Watcher serves a certificate key pair and reloads it when either file
// changes. A failed reload keeps the previous pair.
type Watcher struct {
	certFile string
	keyFile  string
	debounce time.Duration
	log      logger.Logger

	mu   sync.RWMutex
	cert *tls.Certificate

	fsw      *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) WatcherOption {
	return func(w *Watcher) {
		w.log = l
	}
}

// WithDebounce sets the quiet period before a reload.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// NewWatcher loads the key pair. Call Start to follow changes.
func NewWatcher(certFile, keyFile string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		certFile: certFile,
		keyFile:  keyFile,
		debounce: DefaultDebounce,
		log:      logger.NewNop(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.reload(); err != nil {
		return nil, err
	}
	return w, nil
}

// Start watches the directories holding the pair, which also catches
// editors and secret mounts that replace files by rename.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tlsroots: create watcher: %w", err)
	}
	dirs := map[string]bool{filepath.Dir(w.certFile): true, filepath.Dir(w.keyFile): true}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return fmt.Errorf("tlsroots: watch %s: %w", dir, err)
		}
	}
	w.fsw = fsw

	w.wg.Add(1)
	go w.loop()
	w.log.Info("certificate watcher started", "cert_file", w.certFile)
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	names := map[string]bool{filepath.Base(w.certFile): true, filepath.Base(w.keyFile): true}
	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !names[filepath.Base(ev.Name)] || (!ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create)) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			if err := w.reload(); err != nil {
				w.log.Error("certificate reload failed", "error", err, "cert_file", w.certFile)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("certificate watcher error", "error", err)
		}
	}
}

// Stop ends watching. It is safe to call more than once and before Start.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
		if w.fsw != nil {
			err = w.fsw.Close()
		}
	})
	return err
}

// GetCertificate implements tls.Config.GetCertificate.
func (w *Watcher) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cert, nil
}

// ServerConfig is the relay's TLS configuration.
func (w *Watcher) ServerConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: w.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
}

func (w *Watcher) reload() error {
	cert, err := tls.LoadX509KeyPair(w.certFile, w.keyFile)
	if err != nil {
		return fmt.Errorf("tlsroots: load key pair: %w", err)
	}
	w.mu.Lock()
	w.cert = &cert
	w.mu.Unlock()
	w.log.Info("certificate loaded", "cert_file", w.certFile)
	return nil
}
