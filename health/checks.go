package health

import (
	"context"
	"fmt"

	"github.com/c360/sparqlstream/natsclient"
	"github.com/c360/sparqlstream/pagination"
	"github.com/c360/sparqlstream/sparql"
)

// EndpointCheck probes a SPARQL endpoint with an ASK query. Any error
// makes the endpoint degraded, not unhealthy, because queries are still
// accepted and will report their own failures.
func EndpointCheck(name string, exec pagination.Executor, endpoint string) Checker {
	return func(ctx context.Context) Status {
		_, err := exec.Execute(ctx, sparql.QueryRequest{
			Endpoint: endpoint,
			Query:    "ASK {}",
			Format:   sparql.FormatJSON,
		}, nil)
		if err != nil {
			s := FromError(name, err)
			s.Status = StateDegraded
			return s
		}
		return NewHealthy(name, "endpoint reachable")
	}
}

// NATSCheck reports the connection state of client.
func NATSCheck(name string, client *natsclient.Client) Checker {
	return func(context.Context) Status {
		switch st := client.GetStatus(); {
		case client.IsHealthy():
			return NewHealthy(name, "connected")
		case st.Status == natsclient.StatusReconnecting:
			return NewDegraded(name, "reconnecting")
		default:
			return NewUnhealthy(name, fmt.Sprintf("connection %s, %d failures", st.Status, st.FailureCount))
		}
	}
}
