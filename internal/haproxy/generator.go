// Package haproxy renders the proxy routing configuration and supervises
// the HAProxy process.
package haproxy

import (
	"fmt"
	"strings"

	"github.com/hoststack/branchproxy/internal/remote"
)

// BackendAnchor is the structural marker splitting the template into the
// frontend section and the backend stanza template. The contract with the
// template author is that it appears exactly once.
const BackendAnchor = "backend http_backend"

// ConnectionStringHeader is the request header carrying the fully-formed
// database connection string to the upstream.
const ConnectionStringHeader = "Branch-Connection-String"

const (
	defaultAppName      = "branchproxy_container"
	defaultAgentSuffix  = "_branchproxy_container"
	editorAppName       = "branchproxy_vscode_container"
	editorAgentSuffix   = "_branchproxy_vscode_container"
	multiDatabasePrefix = "/sql"
	encryptedPort       = 443
)

// ErrAnchorNotFound is returned when the template lacks the backend anchor.
var ErrAnchorNotFound = fmt.Errorf("template does not contain the %q anchor", BackendAnchor)

// RenderOptions controls client-specific details of the rendered config.
type RenderOptions struct {
	// EditorClient switches the application tag and user-agent suffix to
	// the editor-integration variants.
	EditorClient bool
}

// Render produces the HAProxy configuration for the given descriptors.
//
// Descriptor order is significant and preserved: backends are emitted in
// input order and the first descriptor becomes the default backend. The
// output is deterministic, so identical inputs always produce byte-identical
// configuration.
//
// An empty descriptor list renders a frontend with no database routes and no
// default backend; the proxy will start but route nothing. That is a caller
// error, not a render failure.
func Render(template string, descriptors []remote.ConnectionDescriptor, opts RenderOptions) (string, error) {
	// The backend stanza template after the anchor is unused: backend
	// stanzas are generated per database below. Only the anchor's presence
	// is part of the template contract.
	before, _, found := strings.Cut(template, BackendAnchor)
	if !found {
		return "", ErrAnchorNotFound
	}

	appName, agentSuffix := defaultAppName, defaultAgentSuffix
	if opts.EditorClient {
		appName, agentSuffix = editorAppName, editorAgentSuffix
	}

	var frontend strings.Builder
	frontend.WriteString(strings.TrimSpace(before))
	fmt.Fprintf(&frontend, "\n    acl is_sql path_beg %s", multiDatabasePrefix)

	backends := make([]string, 0, len(descriptors))
	for _, desc := range descriptors {
		backendName := "backend_" + desc.Database
		backends = append(backends, backendStanza(backendName, desc, appName, agentSuffix))

		fmt.Fprintf(&frontend, "\n    acl is_%s path_beg /%s", desc.Database, desc.Database)
		fmt.Fprintf(&frontend, "\n    acl is_%s_connection hdr(%s) -m reg -i %s",
			desc.Database, ConnectionStringHeader, desc.Database)
		fmt.Fprintf(&frontend, "\n    use_backend %s if is_%s or is_sql is_%s_connection",
			backendName, desc.Database, desc.Database)
	}

	if len(descriptors) > 0 {
		fmt.Fprintf(&frontend, "\n    default_backend backend_%s", descriptors[0].Database)
	}

	return frontend.String() + "\n\n" + strings.Join(backends, "\n") + "\n", nil
}

// backendStanza emits one backend with its upstream server and header
// rewrites.
func backendStanza(name string, desc remote.ConnectionDescriptor, appName, agentSuffix string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nbackend %s\n", name)
	fmt.Fprintf(&b, "    server ws_server1 %s:%d ssl verify none sni str(%s) check\n",
		desc.Host, encryptedPort, desc.Host)
	fmt.Fprintf(&b, "    http-request set-header %s %q\n", ConnectionStringHeader, connectionString(desc, appName))
	fmt.Fprintf(&b, "    http-request set-header Host %s\n", desc.Host)
	fmt.Fprintf(&b, "    http-request set-header User-Agent \"%%[req.hdr(User-Agent)]%s\"\n", agentSuffix)
	return b.String()
}

// connectionString builds the cleartext credential connection string injected
// into the upstream request. All credential handling in the rendered config
// funnels through here; a future token-based handoff only needs to change
// this function.
func connectionString(desc remote.ConnectionDescriptor, appName string) string {
	return fmt.Sprintf("postgresql://%s:%s@%s/%s?sslmode=require&application_name=%s",
		desc.User, desc.Password, desc.Host, desc.Database, appName)
}
