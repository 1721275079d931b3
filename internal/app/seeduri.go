package app

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// readSeedURI fetches the seed notebook's raw bytes. A URI starting with
// http:// or https:// is downloaded; anything else is treated as a local
// file path.
func readSeedURI(uri string) ([]byte, error) {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		client := &http.Client{Timeout: 30 * time.Second}
		resp, err := client.Get(uri)
		if err != nil {
			return nil, errors.Wrapf(err, "fetching seed notebook %q", uri)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, errors.Errorf("fetching seed notebook %q: status %d", uri, resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	}
	data, err := os.ReadFile(uri)
	if err != nil {
		return nil, errors.Wrapf(err, "reading seed notebook %q", uri)
	}
	return data, nil
}

// watchSeed logs a warning whenever the seed notebook file changes on disk.
// Endpoints and pool seeding are immutable once built, so a change requires
// a gateway restart; the watcher makes silent drift visible to operators.
// Remote (http) seed URIs are not watchable and are skipped.
func watchSeed(path string, done <-chan struct{}) error {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "creating seed watcher")
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return errors.Wrapf(err, "watching %q", path)
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-done:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) {
					klog.Warningf("app: seed notebook %s changed on disk; restart the gateway to pick up new endpoints", path)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				klog.Warningf("app: seed watcher: %v", err)
			}
		}
	}()
	return nil
}
