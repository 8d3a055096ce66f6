package server

import (
	"fmt"
	"net/http"
	"time"

	"translator/internal/config"
	"translator/internal/controller"
)

type Server struct {
	sc     controller.ServerController
	jc     controller.JobController
	config config.Config
}

// NewServer wires the controllers behind the HTTP handlers
func NewServer(config config.Config, jc controller.JobController, sc controller.ServerController) *Server {
	return &Server{
		sc:     sc,
		jc:     jc,
		config: config,
	}
}

// New returns the http.Server for the API
func New(config config.Config, jc controller.JobController, sc controller.ServerController) *http.Server {
	server := NewServer(config, jc, sc)

	return &http.Server{
		Addr:         fmt.Sprintf(":%v", config.Port),
		Handler:      server.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}
