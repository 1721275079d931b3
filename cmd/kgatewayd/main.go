package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"golang.org/x/term"
	"k8s.io/klog/v2"

	"github.com/kernelgateway/kgatewayd/internal/app"
	"github.com/kernelgateway/kgatewayd/internal/config"
	"github.com/kernelgateway/kgatewayd/internal/httpapi"
	"github.com/kernelgateway/kgatewayd/internal/refkernel"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	sub := os.Args[1]
	switch sub {
	case "-h", "--help", "help":
		usage()
		return
	case "serve":
		os.Exit(serveCommand(os.Args[2:]))
	case "kernel":
		os.Exit(kernelCommand(os.Args[2:]))
	case "version":
		fmt.Println(httpapi.Version)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand: %s\n", sub)
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  kgatewayd <command> [arguments]\n")
	fmt.Fprintf(os.Stderr, "\nCommands:\n")
	fmt.Fprintf(os.Stderr, "  serve [flags]             start the gateway (see `serve -h` for flags; KG_* env vars apply)\n")
	fmt.Fprintf(os.Stderr, "  kernel <connection_file>  run the built-in reference kernel against a connection file\n")
	fmt.Fprintf(os.Stderr, "  version                   print the gateway version\n")
	fmt.Fprintf(os.Stderr, "  help                      show this help message\n")
}

func serveCommand(args []string) int {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	config.BindFlags(fs)
	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	fs.AddGoFlagSet(klogFlags)
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}

	settings, err := config.Resolve(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}

	if settings.MaxKernels > 0 && settings.PrespawnCount > settings.MaxKernels {
		fmt.Fprintf(os.Stderr, "prespawn-count %d exceeds max-kernels %d\n", settings.PrespawnCount, settings.MaxKernels)
		return 2
	}

	a, err := app.New(settings, settings.KernelspecDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		return 1
	}

	handler := httpapi.Chain(a.Mux,
		httpapi.XHeaders(&settings),
		httpapi.CORS(&settings),
		httpapi.TokenAuth(&settings),
	)

	ln, port, err := listenWithRetries(settings.IP, settings.Port, settings.PortRetries)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		a.Shutdown(context.Background())
		return 1
	}

	srv := &http.Server{Handler: handler}
	useTLS := settings.CertFile != "" && settings.KeyFile != ""
	if useTLS {
		cfg, err := tlsConfig(settings)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			a.Shutdown(context.Background())
			return 1
		}
		srv.TLSConfig = cfg
	}
	serveErr := make(chan error, 1)
	go func() {
		if useTLS {
			serveErr <- srv.ServeTLS(ln, settings.CertFile, settings.KeyFile)
			return
		}
		serveErr <- srv.Serve(ln)
	}()

	klog.Infof("kernel gateway listening on %s:%d (%s personality)", settings.IP, port, settings.API)

	code := waitForShutdown(serveErr)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	a.Shutdown(ctx)
	return code
}

// listenWithRetries binds ip:port, trying up to retries additional
// consecutive ports when the address is already in use. Any other bind
// error fails immediately.
func listenWithRetries(ip string, port, retries int) (net.Listener, int, error) {
	for i := 0; i <= retries; i++ {
		p := port + i
		ln, err := net.Listen("tcp", net.JoinHostPort(ip, strconv.Itoa(p)))
		if err == nil {
			if i > 0 {
				klog.Warningf("port %d in use, bound %d instead", port, p)
			}
			return ln, p, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, 0, errors.Wrapf(err, "binding %s:%d", ip, p)
		}
	}
	return nil, 0, errors.Errorf("ports %d through %d all in use", port, port+retries)
}

func tlsConfig(settings config.Settings) (*tls.Config, error) {
	cfg := &tls.Config{}
	if settings.ClientCA != "" {
		pem, err := os.ReadFile(settings.ClientCA)
		if err != nil {
			return nil, errors.Wrap(err, "reading client CA")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.Errorf("no certificates found in %q", settings.ClientCA)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

// waitForShutdown blocks until the server fails or a signal arrives. A
// SIGINT from an interactive terminal offers a 5-second confirmation
// before stopping; a second SIGINT, a SIGTERM, or a non-interactive SIGINT
// stops immediately.
func waitForShutdown(serveErr <-chan error) int {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, captureSignals...)
	defer signal.Stop(sigs)

	for {
		select {
		case err := <-serveErr:
			if err != nil && err != http.ErrServerClosed {
				klog.Errorf("server stopped: %v", err)
				return 1
			}
			return 0
		case sig := <-sigs:
			if sig == os.Interrupt && term.IsTerminal(int(os.Stdin.Fd())) {
				if !confirmShutdown(sigs) {
					klog.Info("shutdown cancelled, resuming")
					continue
				}
			}
			klog.Infof("received %s, shutting down", sig)
			return 0
		}
	}
}

// confirmShutdown prompts on the controlling terminal, returning true when
// the operator answers yes, a second signal arrives, or 5 seconds pass
// without an answer.
func confirmShutdown(sigs <-chan os.Signal) bool {
	fmt.Fprint(os.Stderr, "Shut down this kernel gateway? (y/[n]) ")
	answer := make(chan string, 1)
	go func() {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return
		}
		answer <- line
	}()
	select {
	case line := <-answer:
		return len(line) > 0 && (line[0] == 'y' || line[0] == 'Y')
	case <-sigs:
		return true
	case <-time.After(5 * time.Second):
		fmt.Fprintln(os.Stderr, "no answer, shutting down")
		return true
	}
}

func kernelCommand(args []string) int {
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "usage: kgatewayd kernel <connection_file>\n")
		return 2
	}
	k, err := refkernel.New(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, captureSignals...)
	go func() {
		<-sigs
		k.Stop()
	}()

	if err := k.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return 0
}
