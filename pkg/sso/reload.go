package sso

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Reloader keeps SAML providers current without restarts: it watches IdP
// certificate files for rotation and periodically refreshes IdP metadata.
type Reloader struct {
	providers []*SAMLProvider
	log       *logrus.Logger

	watcher *fsnotify.Watcher
	cron    *cron.Cron
	byFile  map[string]*SAMLProvider
	done    chan struct{}
}

// NewReloader creates a reloader for the given SAML providers
func NewReloader(providers []*SAMLProvider, log *logrus.Logger) *Reloader {
	if log == nil {
		log = logrus.New()
	}
	return &Reloader{
		providers: providers,
		log:       log,
		byFile:    make(map[string]*SAMLProvider),
		done:      make(chan struct{}),
	}
}

// Start begins watching certificate files and schedules metadata refreshes.
// metadataSchedule is a cron expression; empty disables the refresh job.
func (r *Reloader) Start(metadataSchedule string) error {
	if err := r.startCertWatcher(); err != nil {
		return err
	}

	if metadataSchedule != "" {
		if err := r.startMetadataRefresh(metadataSchedule); err != nil {
			return err
		}
	}

	return nil
}

func (r *Reloader) startCertWatcher() error {
	var watched []*SAMLProvider
	for _, p := range r.providers {
		if p.config.SAML.CertificateFile != "" {
			watched = append(watched, p)
		}
	}
	if len(watched) == 0 {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating certificate watcher: %w", err)
	}
	r.watcher = watcher

	for _, p := range watched {
		path := filepath.Clean(p.config.SAML.CertificateFile)
		r.byFile[path] = p
		// Watch the directory: editors and secret mounts replace files
		// rather than writing in place.
		if err := watcher.Add(filepath.Dir(path)); err != nil {
			watcher.Close()
			return fmt.Errorf("watching %s: %w", path, err)
		}
		r.log.WithField("file", path).Info("Watching IdP certificate file")
	}

	go r.watchLoop()
	return nil
}

func (r *Reloader) watchLoop() {
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			provider, ok := r.byFile[filepath.Clean(event.Name)]
			if !ok {
				continue
			}
			r.reloadCertificate(provider, event.Name)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.log.WithError(err).Warn("Certificate watcher error")
		case <-r.done:
			return
		}
	}
}

func (r *Reloader) reloadCertificate(provider *SAMLProvider, path string) {
	pemData, err := os.ReadFile(path)
	if err != nil {
		r.log.WithError(err).WithField("file", path).Error("Failed to read rotated certificate")
		return
	}

	if err := provider.ReplaceCertificate(string(pemData)); err != nil {
		r.log.WithError(err).WithField("file", path).Error("Failed to apply rotated certificate")
		return
	}

	r.log.WithFields(logrus.Fields{
		"provider": provider.Name(),
		"file":     path,
	}).Info("Applied rotated IdP certificate")
}

func (r *Reloader) startMetadataRefresh(schedule string) error {
	var refreshable []*SAMLProvider
	for _, p := range r.providers {
		if p.config.SAML.MetadataURL != "" {
			refreshable = append(refreshable, p)
		}
	}
	if len(refreshable) == 0 {
		return nil
	}

	r.cron = cron.New()
	for _, p := range refreshable {
		provider := p
		_, err := r.cron.AddFunc(schedule, func() {
			if err := provider.RefreshMetadata(context.Background()); err != nil {
				r.log.WithError(err).WithField("provider", provider.Name()).Warn("Metadata refresh failed")
			}
		})
		if err != nil {
			return fmt.Errorf("scheduling metadata refresh: %w", err)
		}
	}

	r.cron.Start()
	r.log.WithField("schedule", schedule).Info("Scheduled IdP metadata refresh")
	return nil
}

// Stop halts the watcher and any scheduled refreshes
func (r *Reloader) Stop() {
	close(r.done)
	if r.watcher != nil {
		r.watcher.Close()
	}
	if r.cron != nil {
		r.cron.Stop()
	}
}
