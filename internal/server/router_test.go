package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/celerix-dca/pkg/schema"
	"github.com/celerix-dev/celerix-dca/pkg/sdk"
)

const fixtures = `IMPORT {"source":"fixtures.csv","rows":[` +
	`{"case_id":"FX-1","customer_name":"Ada","amount":1000,"age":10},` +
	`{"case_id":"FX-2","customer_name":"Bob","amount":9000,"age":50},` +
	`{"case_id":"FX-3","customer_name":"Cy","amount":50000,"age":200}]}`

// startRouter serves a fresh embedded portfolio on a loopback port.
func startRouter(t *testing.T) (*Router, string) {
	t.Helper()
	p, err := sdk.NewEmbedded(sdk.Options{})
	require.NoError(t, err)
	router := NewRouter(p)

	go router.Listen("127.0.0.1:0")

	var addr string
	for i := 0; i < 20 && addr == ""; i++ {
		time.Sleep(25 * time.Millisecond)
		router.mu.Lock()
		if router.listener != nil {
			addr = router.listener.Addr().String()
		}
		router.mu.Unlock()
	}
	require.NotEmpty(t, addr, "server did not start in time")
	t.Cleanup(func() { router.Stop() })
	return router, addr
}

type session struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func dial(t *testing.T, addr string) *session {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &session{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

func (s *session) send(line string) string {
	s.t.Helper()
	_, err := fmt.Fprintf(s.conn, "%s\n", line)
	require.NoError(s.t, err)
	reply, err := s.reader.ReadString('\n')
	require.NoError(s.t, err)
	return strings.TrimSuffix(reply, "\n")
}

func decodeOK(t *testing.T, reply string, v any) {
	t.Helper()
	require.True(t, strings.HasPrefix(reply, "OK "), reply)
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(reply, "OK ")), v))
}

func TestRouter_TCP_Commands(t *testing.T) {
	_, addr := startRouter(t)
	s := dial(t, addr)

	assert.Equal(t, "PONG", s.send("PING"))
	assert.Equal(t, `OK {"imported":3}`, s.send(fixtures))

	var c schema.Case
	decodeOK(t, s.send("GET FX-2"), &c)
	assert.Equal(t, 77, c.AIScore)
	assert.Equal(t, schema.AgencyApex, c.AllocatedAgency)

	decodeOK(t, s.send(`UPDATE {"case_id":"FX-1","status":"Closed","note":"Paid in full","agency":"Apex Collections"}`), &c)
	assert.Equal(t, schema.StatusClosed, c.Status)

	var cases []schema.Case
	decodeOK(t, s.send("CASES"), &cases)
	assert.Len(t, cases, 3)

	var ov schema.Overview
	decodeOK(t, s.send("overview"), &ov)
	assert.InDelta(t, 33.3, ov.CompletionRate, 0.05)

	var view schema.AgencyView
	decodeOK(t, s.send(`VIEW {"agency":"Apex Collections","search":"fx-2"}`), &view)
	assert.Equal(t, 2, view.TotalAllotted)
	require.Len(t, view.Cases, 1)

	var agencies []schema.Agency
	decodeOK(t, s.send("AGENCIES"), &agencies)
	assert.Equal(t, schema.ServicingAgencies(), agencies)

	var audit []schema.AuditLogEntry
	decodeOK(t, s.send("AUDIT 1"), &audit)
	require.Len(t, audit, 1)
	assert.Contains(t, audit[0].Action, "Paid in full")

	decodeOK(t, s.send(`AUDIT {"user":"System Manager"}`), &audit)
	require.Len(t, audit, 1)
	assert.Contains(t, audit[0].Action, "Bulk Ingested 3 cases via fixtures.csv")
}

func TestRouter_ImportRejectsIncompleteRows(t *testing.T) {
	_, addr := startRouter(t)
	s := dial(t, addr)

	reply := s.send(`IMPORT {"rows":[{"case_id":"FX-9","customer_name":"Nia"}]}`)
	require.True(t, strings.HasPrefix(reply, "ERR "+sdk.CodeValidation+" "), reply)
	assert.Contains(t, reply, "row 1: Amount is required")
	assert.Contains(t, reply, "row 1: Age is required")

	var cases []schema.Case
	decodeOK(t, s.send("CASES"), &cases)
	assert.Empty(t, cases)
}

func TestRouter_RejectsOversizedLine(t *testing.T) {
	p, err := sdk.NewEmbedded(sdk.Options{})
	require.NoError(t, err)
	router := NewRouter(p, WithMaxLineSize(64))

	client, srv := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer srv.Close()
		router.HandleConnection(srv)
	}()

	go fmt.Fprintf(client, "IMPORT %s\n", strings.Repeat("x", 200))

	reply, err := bufio.NewReader(client).ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(reply, "ERR "+sdk.CodeBadRequest+" line exceeds 64 bytes"), reply)

	client.Close()
	<-done
}

func TestRouter_ErrorCodes(t *testing.T) {
	_, addr := startRouter(t)
	s := dial(t, addr)
	require.Equal(t, `OK {"imported":3}`, s.send(fixtures))

	tests := []struct {
		line string
		code string
	}{
		{"GET FX-999", sdk.CodeNotFound},
		{`UPDATE {"case_id":"FX-1","status":"Paid","agency":"Apex Collections"}`, sdk.CodeInvalidTransition},
		{`UPDATE {"case_id":"FX-3","status":"Closed","agency":"Apex Collections"}`, sdk.CodeNotFound},
		{`IMPORT {"rows":[{"case_id":"A","amount":-5,"age":1}]}`, sdk.CodeValidation},
		{`IMPORT {"rows":[{"case_id":"A"}]}`, sdk.CodeValidation},
		{`IMPORT {"rows":[{"amount":10,"age":1}]}`, sdk.CodeValidation},
		{`VIEW {"agency":"Nobody"}`, sdk.CodeValidation},
		{"UPDATE not-json", sdk.CodeBadRequest},
		{"UPDATE", sdk.CodeBadRequest},
		{"GET", sdk.CodeBadRequest},
		{"AUDIT -1", sdk.CodeBadRequest},
		{"FROBNICATE", sdk.CodeBadRequest},
	}
	for _, tt := range tests {
		reply := s.send(tt.line)
		assert.True(t, strings.HasPrefix(reply, "ERR "+tt.code+" "), "%s -> %s", tt.line, reply)
	}

	// Failed commands leave the portfolio untouched.
	var cases []schema.Case
	decodeOK(t, s.send("CASES"), &cases)
	assert.Len(t, cases, 3)
	for _, c := range cases {
		assert.Equal(t, schema.StatusAllocated, c.Status)
	}
}

func TestRouter_ConcurrentConnections(t *testing.T) {
	_, addr := startRouter(t)
	require.Equal(t, `OK {"imported":3}`, dial(t, addr).send(fixtures))

	const clients = 10
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := net.Dial("tcp", addr)
			if !assert.NoError(t, err) {
				return
			}
			defer conn.Close()
			reader := bufio.NewReader(conn)
			fmt.Fprintf(conn, `UPDATE {"case_id":"FX-2","status":"Contacted","note":"call %d"}`+"\n", i)
			reply, err := reader.ReadString('\n')
			assert.NoError(t, err)
			assert.True(t, strings.HasPrefix(reply, "OK "), reply)
		}(i)
	}
	wg.Wait()

	var audit []schema.AuditLogEntry
	decodeOK(t, dial(t, addr).send(`AUDIT {"case_id":"FX-2"}`), &audit)
	assert.Len(t, audit, clients)
}

func TestRouter_QuitAndStop(t *testing.T) {
	router, addr := startRouter(t)
	s := dial(t, addr)

	fmt.Fprintf(s.conn, "QUIT\n")
	_, err := s.reader.ReadString('\n')
	assert.Error(t, err, "server closes the connection after QUIT")

	require.NoError(t, router.Stop())
	assert.Nil(t, router.Addr())
	_, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err)
}
