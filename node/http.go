package node

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/Aurorachain/dappshell/bridge"
	"github.com/Aurorachain/dappshell/metrics"
	"github.com/Aurorachain/dappshell/params"
	"github.com/Aurorachain/dappshell/sandbox/wsapp"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
)

// Status is served at /status.
type Status struct {
	Version     string      `json:"version"`
	Network     string      `json:"network"`
	ChainID     uint64      `json:"chainId"`
	BlockNumber uint64      `json:"blockNumber"`
	Accounts    int         `json:"accounts"`
	Active      string      `json:"activeAccount,omitempty"`
	Session     bridge.Info `json:"session"`
}

// status must be called with n.lock held for reading.
func (n *Node) status() Status {
	st := Status{
		Version:     params.Version,
		Network:     n.network.Name,
		ChainID:     n.network.ChainID.Uint64(),
		BlockNumber: n.provider.BlockNumber(),
		Accounts:    len(n.registry.List()),
		Session:     n.sessions.Current(),
	}
	if a := n.registry.Active(); a != nil {
		st.Active = a.Address.Hex()
	}
	return st
}

func (n *Node) handler() http.Handler {
	router := httprouter.New()
	router.GET(wsapp.PathPrefix+":session", n.pages.Serve)
	router.GET("/status", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		n.lock.RLock()
		if !n.running {
			n.lock.RUnlock()
			http.Error(w, ErrNodeStopped.Error(), http.StatusServiceUnavailable)
			return
		}
		st := n.status()
		n.lock.RUnlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(st)
	})
	if n.config.Metrics {
		router.Handler(http.MethodGet, "/debug/metrics", metrics.Handler())
	}
	return newCorsHandler(router, n.config.HTTPCors)
}

func newCorsHandler(h http.Handler, allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		return h
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet},
		MaxAge:         600,
	})
	return c.Handler(h)
}

// startHTTP must be called with n.lock held.
func (n *Node) startHTTP(endpoint string, cors []string) error {
	if endpoint == "" {
		return nil
	}
	listener, err := net.Listen("tcp", endpoint)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: n.handler()}
	go srv.Serve(listener)

	n.httpEndpoint = listener.Addr().String()
	n.httpListener = listener
	n.httpServer = srv
	n.log.Info("HTTP endpoint opened", "url", "http://"+n.httpEndpoint)
	return nil
}

// stopHTTP must be called with n.lock held.
func (n *Node) stopHTTP() {
	if n.httpServer != nil {
		n.httpServer.Close()
		n.httpServer = nil
		n.httpListener = nil
		n.log.Info("HTTP endpoint closed", "url", "http://"+n.httpEndpoint)
	}
}
