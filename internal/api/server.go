// Package api serves the flow over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	cors "github.com/itsjamie/gin-cors"
	"github.com/lagrangedao/go-c2d-flow/internal/models"
	"github.com/lagrangedao/go-c2d-flow/internal/runs"
	"github.com/lagrangedao/go-c2d-flow/util"
)

const usage = "Try /hello/Chris for parameterized route.\n" +
	"Try /api for the API documentation"

// FlowFunc runs one flow synchronously.
type FlowFunc func(ctx context.Context) (*models.FlowResult, error)

type Server struct {
	publisher string
	runFlow   FlowFunc
	manager   *runs.Manager
	artifacts http.Handler
}

type Option func(*Server)

// WithArtifacts mounts an artifact handler under /artifacts.
func WithArtifacts(h http.Handler) Option {
	return func(s *Server) {
		s.artifacts = h
	}
}

func NewServer(publisher string, runFlow FlowFunc, manager *runs.Manager, options ...Option) *Server {
	s := &Server{
		publisher: publisher,
		runFlow:   runFlow,
		manager:   manager,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

func NewRouter(s *Server) *gin.Engine {
	r := gin.Default()
	r.Use(cors.Middleware(cors.Config{
		Origins:         "*",
		Methods:         "GET, PUT, POST, DELETE",
		RequestHeaders:  "Origin, Authorization, Content-Type",
		ExposedHeaders:  "",
		MaxAge:          50 * time.Second,
		ValidateHeaders: false,
	}))
	pprof.Register(r)
	s.Register(r)
	return r
}

func (s *Server) Register(r *gin.Engine) {
	r.GET("/", s.index)
	r.GET("/hello/:name", s.hello)
	r.GET("/api", apiDocs)
	r.GET("/api/openapi.json", openAPI)

	alpha := r.Group("/alpha")
	alpha.GET("/createwallet", s.createWallet)
	alpha.GET("/fullflow", s.fullFlow)

	if s.manager != nil {
		flowManager(r.Group("/api/v1/flows"), s.manager)
	}
	if s.artifacts != nil {
		r.Any("/artifacts/*path", gin.WrapH(http.StripPrefix("/artifacts", s.artifacts)))
	}
}

func (s *Server) index(c *gin.Context) {
	c.String(http.StatusOK, usage)
}

func (s *Server) hello(c *gin.Context) {
	c.String(http.StatusOK, "hello %s", c.Param("name"))
}

func (s *Server) createWallet(c *gin.Context) {
	c.JSON(http.StatusOK, fmt.Sprintf("publisher_wallet.address = '%s'", s.publisher))
}

// fullFlow blocks for the whole flow, including the job polling.
func (s *Server) fullFlow(c *gin.Context) {
	result, err := s.runFlow(c.Request.Context())
	if err != nil {
		logs.GetLogger().Errorf("full flow failed, error: %+v", err)
		c.JSON(http.StatusInternalServerError, util.CreateErrorResponse(util.FlowRunError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, result.Summary())
}
