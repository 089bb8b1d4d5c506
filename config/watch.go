package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher 监听配置文件变更并回调新配置。只有可调参数允许热更：
// 标的、网关接入等结构性字段变了只告警不生效，需要重启。
type Watcher struct {
	path     string
	cooldown time.Duration
	onChange func(AppConfig)
	log      *zap.Logger

	current  AppConfig
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewWatcher 创建监听器。current 是当前生效配置，用于结构性字段比对。
func NewWatcher(path string, current AppConfig, cooldown time.Duration, onChange func(AppConfig), log *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// 监听目录而不是文件：编辑器保存常用重命名替换，旧 inode 的 watch 会失效
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	if cooldown <= 0 {
		cooldown = time.Second
	}
	w := &Watcher{
		path:     path,
		cooldown: cooldown,
		onChange: onChange,
		log:      log,
		current:  current,
		watcher:  fw,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Close 停止监听。
func (w *Watcher) Close() error {
	close(w.stopChan)
	<-w.doneChan
	return w.watcher.Close()
}

func (w *Watcher) run() {
	defer close(w.doneChan)

	var lastReload time.Time
	for {
		select {
		case <-w.stopChan:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if time.Since(lastReload) < w.cooldown {
				continue
			}
			lastReload = time.Now()
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadWithEnvOverrides(w.path)
	if err != nil {
		// 坏配置只告警，继续用旧配置跑
		w.log.Error("config reload rejected", zap.Error(err))
		return
	}
	if cfg.Instrument != w.current.Instrument {
		w.log.Warn("instrument change requires restart, keeping current config")
		return
	}
	if cfg.Gateway.Mode != w.current.Gateway.Mode || cfg.Gateway.RestURL != w.current.Gateway.RestURL {
		w.log.Warn("gateway change requires restart, keeping current config")
		return
	}
	w.current = cfg
	w.log.Info("config reloaded", zap.String("path", w.path))
	w.onChange(cfg)
}
