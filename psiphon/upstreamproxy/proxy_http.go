/*
 * Copyright (c) 2015, Psiphon Inc.
 * All rights reserved.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */
/*
 * Copyright (c) 2014, Yawning Angel <yawning at torproject dot org>
 * All rights reserved.
 *
 * Redistribution and use in source and binary forms, with or without
 * modification, are permitted provided that the following conditions are met:
 *
 *  * Redistributions of source code must retain the above copyright notice,
 *    this list of conditions and the following disclaimer.
 *
 *  * Redistributions in binary form must reproduce the above copyright notice,
 *    this list of conditions and the following disclaimer in the documentation
 *    and/or other materials provided with the distribution.
 *
 * THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
 * AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
 * IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE
 * ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE
 * LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR
 * CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF
 * SUBSTITUTE GOODS OR SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
 * INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN
 * CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE)
 * ARISING IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE
 * POSSIBILITY OF SUCH DAMAGE.
 */

package upstreamproxy

import (
	"bufio"
	"encoding/base64"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon/common/errors"
	"golang.org/x/net/proxy"
)

type HttpAuthState int

const (
	HTTP_AUTH_STATE_UNCHALLENGED HttpAuthState = iota
	HTTP_AUTH_STATE_CHALLENGED
	HTTP_AUTH_STATE_FAILURE
	HTTP_AUTH_STATE_SUCCESS
)

// httpProxy is a HTTP CONNECT proxy. Only the Basic authentication scheme
// is supported, matching what plonk itself offers for http parent proxies.
type httpProxy struct {
	hostPort string
	username string
	password string
	forward  proxy.Dialer
}

func newHTTP(uri *url.URL, forward proxy.Dialer) (proxy.Dialer, error) {
	hp := &httpProxy{
		hostPort: uri.Host,
		forward:  forward,
	}
	if uri.User != nil {
		hp.username = uri.User.Username()
		hp.password, _ = uri.User.Password()
	}
	return hp, nil
}

func (hp *httpProxy) Dial(network, addr string) (net.Conn, error) {

	authState := HTTP_AUTH_STATE_UNCHALLENGED

	// A 407 challenge is commonly followed by "Connection: close", so each
	// handshake attempt uses a fresh connection. There is at most one
	// challenge.
	for {
		conn, err := hp.forward.Dial("tcp", hp.hostPort)
		if err != nil {
			return nil, proxyError(err)
		}

		var reader *bufio.Reader
		reader, authState, err = hp.handshake(conn, addr, authState)
		switch authState {
		case HTTP_AUTH_STATE_SUCCESS:
			return &proxyConn{Conn: conn, staleReader: reader}, nil
		case HTTP_AUTH_STATE_CHALLENGED:
			conn.Close()
			continue
		default:
			conn.Close()
			return nil, proxyError(err)
		}
	}
}

func (hp *httpProxy) handshake(
	conn net.Conn,
	addr string,
	authState HttpAuthState) (*bufio.Reader, HttpAuthState, error) {

	req := &http.Request{
		Method: "CONNECT",
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	req.Header.Set("User-Agent", "")

	if authState == HTTP_AUTH_STATE_CHALLENGED {
		credentials := base64.StdEncoding.EncodeToString(
			[]byte(hp.username + ":" + hp.password))
		req.Header.Set("Proxy-Authorization", "Basic "+credentials)
	}

	err := req.Write(conn)
	if err != nil {
		return nil, HTTP_AUTH_STATE_FAILURE, errors.Trace(err)
	}

	reader := bufio.NewReader(conn)
	resp, err := http.ReadResponse(reader, req)
	if err != nil {
		return nil, HTTP_AUTH_STATE_FAILURE, errors.Trace(err)
	}

	// The response body is not drained. A CONNECT 200 response body is
	// unbounded, and on any other response the connection is discarded.

	switch resp.StatusCode {
	case http.StatusOK:
		return reader, HTTP_AUTH_STATE_SUCCESS, nil

	case http.StatusProxyAuthRequired:
		if authState == HTTP_AUTH_STATE_CHALLENGED {
			return nil, HTTP_AUTH_STATE_FAILURE, errors.TraceNew("proxy authentication failed")
		}
		if hp.username == "" {
			return nil, HTTP_AUTH_STATE_FAILURE, errors.TraceNew("no credentials provided for proxy auth")
		}
		if !hasBasicChallenge(resp) {
			return nil, HTTP_AUTH_STATE_FAILURE, errors.Tracef(
				"unsupported proxy authentication scheme in %v",
				resp.Header.Values("Proxy-Authenticate"))
		}
		return nil, HTTP_AUTH_STATE_CHALLENGED, nil
	}

	return nil, HTTP_AUTH_STATE_FAILURE, errors.Tracef("unexpected proxy response: %s", resp.Status)
}

func hasBasicChallenge(resp *http.Response) bool {
	for _, challenge := range resp.Header.Values("Proxy-Authenticate") {
		scheme := strings.SplitN(strings.TrimSpace(challenge), " ", 2)[0]
		if strings.EqualFold(scheme, "Basic") {
			return true
		}
	}
	return false
}

// proxyConn is the tunnelled connection. Any bytes the proxy sent after its
// CONNECT response are buffered in staleReader and are read first.
type proxyConn struct {
	net.Conn
	staleReader *bufio.Reader
}

func (pc *proxyConn) Read(b []byte) (int, error) {
	if pc.staleReader != nil {
		if pc.staleReader.Buffered() > 0 {
			return pc.staleReader.Read(b)
		}
		pc.staleReader = nil
	}
	return pc.Conn.Read(b)
}

func init() {
	proxy.RegisterDialerType("http", newHTTP)
}
