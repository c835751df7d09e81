package main

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/obinnaokechukwu/nnbridge"
	"github.com/rs/zerolog"
)

// levelWatcher reloads the global log level whenever the config file is
// written or replaced.
type levelWatcher struct {
	w    *fsnotify.Watcher
	path string
	log  zerolog.Logger
	done chan struct{}
}

func watchLogLevel(path string, log zerolog.Logger) (*levelWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Editors often replace the file, which drops a watch on the file
	// itself, so watch its directory.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, err
	}
	lw := &levelWatcher{w: w, path: abs, log: log, done: make(chan struct{})}
	go lw.loop()
	return lw, nil
}

func (lw *levelWatcher) loop() {
	defer close(lw.done)
	for {
		select {
		case ev, ok := <-lw.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != lw.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				lw.reload()
			}
		case err, ok := <-lw.w.Errors:
			if !ok {
				return
			}
			lw.log.Warn().Err(err).Msg("config watch error")
		}
	}
}

func (lw *levelWatcher) reload() {
	cfg, err := nnbridge.LoadConfig(lw.path)
	if err != nil {
		// partial writes fail to parse; the next event retries
		lw.log.Debug().Err(err).Msg("config reload skipped")
		return
	}
	level, err := nnbridge.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return
	}
	if level != zerolog.GlobalLevel() {
		zerolog.SetGlobalLevel(level)
		lw.log.Info().Stringer("level", level).Msg("log level changed")
	}
}

func (lw *levelWatcher) Close() error {
	err := lw.w.Close()
	<-lw.done
	return err
}
