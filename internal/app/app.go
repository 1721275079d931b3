// Package app wires every long-lived component into one explicit
// dependency-injection struct. There is no global application state: tests
// construct as many App values as they need, the production binary
// constructs exactly one.
package app

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/kernelgateway/kgatewayd/internal/cellparser"
	"github.com/kernelgateway/kgatewayd/internal/config"
	"github.com/kernelgateway/kgatewayd/internal/dispatcher"
	"github.com/kernelgateway/kgatewayd/internal/endpointrouter"
	"github.com/kernelgateway/kgatewayd/internal/httpapi"
	"github.com/kernelgateway/kgatewayd/internal/kernelclient"
	"github.com/kernelgateway/kgatewayd/internal/kernelspec"
	"github.com/kernelgateway/kgatewayd/internal/manager"
	"github.com/kernelgateway/kgatewayd/internal/notebook"
	"github.com/kernelgateway/kgatewayd/internal/notebookapi"
	"github.com/kernelgateway/kgatewayd/internal/pool"
	"github.com/kernelgateway/kgatewayd/internal/refkernel"
	"github.com/kernelgateway/kgatewayd/internal/session"
	"github.com/kernelgateway/kgatewayd/internal/swagger"
)

// App owns every long-lived component for one gateway process. There is no
// package-level state anywhere in the module; every component is reached
// through an *App value passed explicitly to whatever needs it.
type App struct {
	Settings config.Settings
	Registry *kernelspec.Registry
	Manager  *manager.Manager
	Sessions *session.Registry
	Pool     *pool.Pool // only populated under PersonalityNotebookHTTP
	Mux      *http.ServeMux

	stop     chan struct{}
	stopOnce sync.Once
}

// New takes already-resolved settings, loads the kernelspec registry, and builds every
// component the configured personality needs, but does not start serving,
// so an App can be constructed without binding a socket.
func New(settings config.Settings, specDir string) (*App, error) {
	registry, loadErrs := kernelspec.LoadDir(specDir)
	for _, e := range loadErrs {
		klog.Warningf("app: skipping malformed kernelspec: %v", e)
	}
	if len(registry.Names()) == 0 {
		echo, err := refkernel.EchoSpec()
		if err != nil {
			return nil, errors.Wrap(err, "no kernelspecs installed and echo fallback unavailable")
		}
		klog.Infof("app: no kernelspecs under %q, registering built-in echo kernel", specDir)
		registry = kernelspec.NewRegistry(echo)
	}
	if settings.DefaultKernelName != "" {
		if err := registry.SetDefault(settings.DefaultKernelName); err != nil {
			return nil, errors.Wrap(err, "setting default kernelspec")
		}
	}

	opts := kernelclient.Options{
		RuntimeDir:       settings.RuntimeDir,
		ShutdownGrace:    settings.ShutdownGrace,
		ProcessWhitelist: settings.EnvProcessWhitelist,
	}
	mgr := manager.New(registry, settings.MaxKernels, opts)
	if settings.ForceKernelName != "" {
		mgr.ForceKernelName(settings.ForceKernelName)
	}
	sessions := session.New()

	a := &App{
		Settings: settings,
		Registry: registry,
		Manager:  mgr,
		Sessions: sessions,
		Mux:      http.NewServeMux(),
		stop:     make(chan struct{}),
	}

	switch settings.API {
	case config.PersonalityNotebookHTTP:
		if err := a.wireNotebookHTTP(); err != nil {
			return nil, err
		}
	default:
		a.wireRaw()
	}

	return a, nil
}

func (a *App) wireRaw() {
	h := &httpapi.Handlers{
		Manager:           a.Manager,
		Sessions:          a.Sessions,
		ListKernelsPublic: a.Settings.ListKernels,
		WSPingInterval:    a.Settings.WSPingInterval,
		Upgrader:          websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	h.Register(a.Mux)
}

// wireNotebookHTTP parses the seed notebook's cells into endpoints and
// response-metadata declarations, builds the router and dispatcher, and
// prespawns the kernel pool.
func (a *App) wireNotebookHTTP() error {
	if a.Settings.SeedURI == "" {
		return errors.New("app: notebook-http personality requires KG_SEED_URI")
	}
	nb, raw, err := loadNotebook(a.Settings.SeedURI)
	if err != nil {
		return errors.Wrap(err, "loading seed notebook")
	}
	if a.Settings.SeedWatch {
		if err := watchSeed(a.Settings.SeedURI, a.stop); err != nil {
			klog.Warningf("app: seed watch disabled: %v", err)
		}
	}

	kernelName := a.Settings.ForceKernelName
	if kernelName == "" {
		kernelName = nb.KernelSpec.Name
	}
	if kernelName == "" {
		kernelName = a.Registry.Default()
	}
	spec, ok := a.Registry.Get(kernelName)
	if !ok {
		return errors.Errorf("app: seed notebook targets unknown kernelspec %q", kernelName)
	}

	parser := cellparser.New(spec.Language)
	sources := nb.CodeCellSources()
	endpoints := parser.Endpoints(sources)
	endpoints = append(endpoints, swagger.EndpointsFromMarkdown(nb.MarkdownCellSources())...)
	responses := parser.ResponseMetadata(sources)

	router, err := endpointrouter.New(endpoints, responses)
	if err != nil {
		return errors.Wrap(err, "compiling endpoint router")
	}

	var seedCells []manager.SeedCell
	for _, src := range sources {
		if parser.SeedCell(src) {
			seedCells = append(seedCells, manager.SeedCell{KernelName: kernelName, Source: src})
		}
	}
	a.Manager.SetSeed(seedCells, func(name, _ string) bool { return name == kernelName })

	prespawn := a.Settings.PrespawnCount
	if prespawn < 1 {
		prespawn = 1
	}
	p := pool.New(func(ctx context.Context, name, explicitID string, env map[string]string) (*kernelclient.Kernel, error) {
		return a.Manager.Create(ctx, name, explicitID, env)
	}, kernelName, prespawn)

	ctx, cancel := context.WithTimeout(context.Background(), a.Settings.ExecutionTimeout*time.Duration(prespawn)+30*time.Second)
	defer cancel()
	if err := p.Prespawn(ctx); err != nil {
		return errors.Wrap(err, "prespawning kernel pool")
	}
	a.Pool = p

	d := dispatcher.New(p, spec.Language, a.Settings.ExecutionTimeout)
	nh := &notebookapi.Handlers{
		Router:      router,
		Dispatcher:  d,
		Title:       nb.KernelSpec.DisplayName,
		BasePath:    a.Settings.BaseURL,
		NotebookRaw: raw,
	}
	nh.Register(a.Mux)
	return nil
}

func loadNotebook(uri string) (*notebook.Notebook, []byte, error) {
	raw, err := readSeedURI(uri)
	if err != nil {
		return nil, nil, err
	}
	nb, err := notebook.Parse(raw)
	if err != nil {
		return nil, nil, err
	}
	return nb, raw, nil
}

// Shutdown tears down every running kernel, used on SIGINT/SIGTERM.
func (a *App) Shutdown(ctx context.Context) {
	a.stopOnce.Do(func() { close(a.stop) })
	if a.Pool != nil {
		a.Pool.Shutdown(ctx)
	}
	a.Manager.ShutdownAll(ctx)
}
