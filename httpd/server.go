/*************************************************************************
 * Copyright 2025 Monlight Systems. All rights reserved.
 * Contact: <legal@monlight.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package httpd

import (
	"context"
	stdlog "log"
	"net"
	"net/http"
	"time"

	"github.com/monlight/monlight/log"
)

const (
	readHeaderTimeout = 5 * time.Second

	// DefaultShutdownTimeout bounds how long we wait for in-flight requests
	// on a quit signal.
	DefaultShutdownTimeout = 60 * time.Second
)

// Server wraps http.Server with the lifecycle the services share: bind up
// front so address errors surface immediately, serve in the background,
// surface the exit error on Done, drain on Shutdown.
type Server struct {
	lg   *log.Logger
	srv  *http.Server
	lst  net.Listener
	done chan error
}

func NewServer(bind string, hnd http.Handler, lg *log.Logger) *Server {
	return &Server{
		lg: lg,
		srv: &http.Server{
			Addr:              bind,
			Handler:           hnd,
			ReadHeaderTimeout: readHeaderTimeout,
			ErrorLog:          stdlog.New(lg, ``, 0),
		},
		done: make(chan error, 1),
	}
}

// Start binds the listener and kicks the serve loop off in the background,
// serve errors show up on Done.
func (s *Server) Start() (err error) {
	if s.lst, err = net.Listen(`tcp`, s.srv.Addr); err != nil {
		return
	}
	go func(dn chan error) {
		if err := s.srv.Serve(s.lst); err == http.ErrServerClosed {
			dn <- nil
		} else {
			dn <- err
		}
	}(s.done)
	return
}

// Done yields the serve loop result once the server stops.
func (s *Server) Done() <-chan error {
	return s.done
}

// Shutdown drains in-flight requests, waiting at most the given timeout.
func (s *Server) Shutdown(to time.Duration) error {
	ctx, cf := context.WithTimeout(context.Background(), to)
	defer cf()
	if err := s.srv.Shutdown(ctx); err != nil {
		return err
	}
	return <-s.done
}

// Addr hands back the bound address, useful when the config asked for an
// ephemeral port.
func (s *Server) Addr() string {
	if s.lst != nil {
		return s.lst.Addr().String()
	}
	return s.srv.Addr
}
