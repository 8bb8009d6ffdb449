package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/edgewatch/camd/internal/mediamtx"
)

// StreamDescriptor identifies one relay path and its source.
type StreamDescriptor struct {
	Name   string `json:"name"`
	Source string `json:"source,omitempty"`
	Record bool   `json:"record,omitempty"`
}

// StreamURLs are the playback endpoints for one stream. They are a pure
// function of (host, ports, name).
type StreamURLs struct {
	RTSP   string `json:"rtsp_url"`
	WebRTC string `json:"webrtc_url"`
	HLS    string `json:"hls_url"`
}

// streamManager creates and deletes named relay paths on the media server
// and derives their playback URLs.
type streamManager struct {
	log    *zap.Logger
	cfg    Config
	client *mediamtx.Client
}

func newStreamManager(log *zap.Logger, cfg Config, client *mediamtx.Client) *streamManager {
	return &streamManager{log: log.Named("streams"), cfg: cfg, client: client}
}

// URLs derives the playback endpoints for name. Pure; no I/O.
func (s *streamManager) URLs(name string) StreamURLs {
	return StreamURLs{
		RTSP:   fmt.Sprintf("rtsp://%s:%d/%s", s.cfg.Host, s.cfg.RTSPPort, name),
		WebRTC: fmt.Sprintf("http://%s:%d/%s", s.cfg.Host, s.cfg.WebRTCPort, name),
		HLS:    fmt.Sprintf("http://%s:%d/%s", s.cfg.Host, s.cfg.HLSPort, name),
	}
}

// Create issues an idempotent add-or-edit for the descriptor's path.
// Repeating the call with identical parameters succeeds and returns the
// identical URL set.
func (s *streamManager) Create(ctx context.Context, desc StreamDescriptor) (StreamURLs, error) {
	if desc.Name == "" {
		return StreamURLs{}, fmt.Errorf("stream name is required: %w", ErrInvalidInput)
	}

	conf := map[string]any{"record": desc.Record}
	if desc.Source != "" {
		conf["source"] = desc.Source
	}

	if err := s.client.AddOrEditPath(ctx, desc.Name, conf); err != nil {
		return StreamURLs{}, fmt.Errorf("create stream %q: %w", desc.Name, err)
	}

	urls := s.URLs(desc.Name)
	s.log.Info("stream created",
		zap.String("stream", desc.Name),
		zap.String("source", desc.Source),
		zap.String("rtsp_url", urls.RTSP))
	return urls, nil
}

// Delete removes the named path. Absence is a successful, non-exceptional
// outcome: (false, nil).
func (s *streamManager) Delete(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, fmt.Errorf("stream name is required: %w", ErrInvalidInput)
	}

	err := s.client.DeletePath(ctx, name)
	if err != nil {
		if errors.Is(err, mediamtx.ErrPathNotFound) {
			s.log.Debug("delete of unknown stream ignored", zap.String("stream", name))
			return false, nil
		}
		return false, fmt.Errorf("delete stream %q: %w", name, err)
	}

	s.log.Info("stream deleted", zap.String("stream", name))
	return true, nil
}

// Exists reports whether the named path is present in the server's runtime
// path list.
func (s *streamManager) Exists(ctx context.Context, name string) (bool, error) {
	_, found, err := s.pathInfo(ctx, name)
	return found, err
}

// CheckReadiness polls the server's path list until the named path has an
// active publisher, up to the given timeout. A name absent from the list is
// a not-found failure, not merely false.
func (s *streamManager) CheckReadiness(ctx context.Context, name string, timeout time.Duration) (bool, error) {
	if name == "" {
		return false, fmt.Errorf("stream name is required: %w", ErrInvalidInput)
	}

	deadline := time.Now().Add(timeout)
	for {
		info, found, err := s.pathInfo(ctx, name)
		if err != nil {
			return false, fmt.Errorf("check readiness of %q: %w", name, err)
		}
		if !found {
			return false, fmt.Errorf("stream %q: %w", name, ErrNotFound)
		}
		if info.Ready {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}

		wait := s.cfg.ReadinessPollInterval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// pathInfo looks the named path up in the runtime path list.
func (s *streamManager) pathInfo(ctx context.Context, name string) (mediamtx.PathInfo, bool, error) {
	paths, err := s.client.PathList(ctx)
	if err != nil {
		return mediamtx.PathInfo{}, false, err
	}
	for _, p := range paths {
		if p.Name == name {
			return p, true, nil
		}
	}
	return mediamtx.PathInfo{}, false, nil
}
