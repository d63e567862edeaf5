/*
 * Copyright (c) 2026, Psiphon Inc.
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

package testutils

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	socks "github.com/Psiphon-Labs/goptlib"
	"github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon/common/errors"
	"github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon/upstreamproxy"
	"golang.org/x/net/proxy"
)

// Set in the environment of a test binary to make it run as a fake plonk.
const FAKE_PLONK_ENVIRONMENT_VARIABLE = "PSIPHON_FAKE_PLONK"

// When set, the fake plonk exits with FAKE_PLONK_EXIT_UNKNOWN_HOST_KEY
// unless this known hosts file has an entry for the target server, as plonk
// in batch mode does.
const FAKE_PLONK_KNOWN_HOSTS_ENVIRONMENT_VARIABLE = "PSIPHON_FAKE_PLONK_KNOWN_HOSTS"

// Fake plonk behaviors, selected by the -l username argument.
const (
	FAKE_PLONK_READY = "ready"
	FAKE_PLONK_EXIT  = "exit"
	FAKE_PLONK_HANG  = "hang"
	FAKE_PLONK_SLOW  = "slow"
	FAKE_PLONK_DIAL  = "dial"
)

const (
	FAKE_PLONK_EXIT_OK               = 0
	FAKE_PLONK_EXIT_FAILED           = 1
	FAKE_PLONK_EXIT_BAD_ARGUMENTS    = 2
	FAKE_PLONK_EXIT_UNKNOWN_HOST_KEY = 3
)

const FAKE_PLONK_SLOW_DELAY = 500 * time.Millisecond

// IsFakePlonk returns true when the current process was launched as a fake
// plonk. Call from TestMain:
//
//	if testutils.IsFakePlonk() {
//	    os.Exit(testutils.RunFakePlonk(os.Args[1:]))
//	}
func IsFakePlonk() bool {
	return os.Getenv(FAKE_PLONK_ENVIRONMENT_VARIABLE) == "1"
}

// EnableFakePlonk marks processes launched from this one as fake plonks.
func EnableFakePlonk() error {
	return errors.Trace(os.Setenv(FAKE_PLONK_ENVIRONMENT_VARIABLE, "1"))
}

type fakePlonkArgs struct {
	serverAddress       string
	serverPort          int
	username            string
	password            string
	localSocksProxyPort int
	obfuscated          bool
	obfuscatedKey       string
	parentProxy         *upstreamproxy.ParentProxy
}

// RunFakePlonk accepts plonk command line arguments and runs a local SOCKS
// proxy which relays directly to each requested target. It returns the
// process exit code.
func RunFakePlonk(args []string) int {

	plonkArgs, err := parseFakePlonkArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fake plonk: %s\n", err)
		return FAKE_PLONK_EXIT_BAD_ARGUMENTS
	}

	knownHostsFilename := os.Getenv(FAKE_PLONK_KNOWN_HOSTS_ENVIRONMENT_VARIABLE)
	if knownHostsFilename != "" {
		err := checkKnownHost(knownHostsFilename, plonkArgs.serverAddress, plonkArgs.serverPort)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fake plonk: %s\n", err)
			return FAKE_PLONK_EXIT_UNKNOWN_HOST_KEY
		}
	}

	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, os.Interrupt, syscall.SIGTERM)

	switch plonkArgs.username {

	case FAKE_PLONK_EXIT:
		return FAKE_PLONK_EXIT_FAILED

	case FAKE_PLONK_HANG:
		<-stopSignal
		return FAKE_PLONK_EXIT_OK

	case FAKE_PLONK_SLOW:
		select {
		case <-stopSignal:
			return FAKE_PLONK_EXIT_OK
		case <-time.After(FAKE_PLONK_SLOW_DELAY):
		}

	case FAKE_PLONK_DIAL:
		err := dialServer(plonkArgs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fake plonk: %s\n", err)
			return FAKE_PLONK_EXIT_FAILED
		}
	}

	listener, err := socks.ListenSocks(
		"tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(plonkArgs.localSocksProxyPort)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "fake plonk: listen failed: %s\n", err)
		return FAKE_PLONK_EXIT_FAILED
	}
	go relaySocksConnections(listener, nil)

	<-stopSignal
	listener.Close()

	return FAKE_PLONK_EXIT_OK
}

func parseFakePlonkArgs(args []string) (*fakePlonkArgs, error) {

	flags := flag.NewFlagSet("plonk", flag.ContinueOnError)
	flags.SetOutput(io.Discard)

	flags.Bool("ssh", false, "")
	flags.Bool("C", false, "")
	flags.Bool("N", false, "")
	flags.Bool("batch", false, "")
	flags.Bool("v", false, "")

	serverPort := flags.Int("P", 0, "")
	username := flags.String("l", "", "")
	password := flags.String("pw", "", "")
	localSocksProxyPort := flags.Int("D", 0, "")
	obfuscated := flags.Bool("z", false, "")
	obfuscatedKey := flags.String("Z", "", "")
	proxyType := flags.String("proxy_type", "", "")
	proxyHost := flags.String("proxy_host", "", "")
	proxyPort := flags.Int("proxy_port", 0, "")
	proxyUsername := flags.String("proxy_username", "", "")
	proxyPassword := flags.String("proxy_password", "", "")

	err := flags.Parse(args)
	if err != nil {
		return nil, errors.Trace(err)
	}

	if flags.NArg() != 1 {
		return nil, errors.Tracef("expected one server address, got %d", flags.NArg())
	}
	if *serverPort <= 0 || *localSocksProxyPort <= 0 || *username == "" || *password == "" {
		return nil, errors.TraceNew("missing required argument")
	}
	if *obfuscated != (*obfuscatedKey != "") {
		return nil, errors.TraceNew("-z requires -Z")
	}

	plonkArgs := &fakePlonkArgs{
		serverAddress:       flags.Arg(0),
		serverPort:          *serverPort,
		username:            *username,
		password:            *password,
		localSocksProxyPort: *localSocksProxyPort,
		obfuscated:          *obfuscated,
		obfuscatedKey:       *obfuscatedKey,
	}

	if *proxyType != "" {
		plonkArgs.parentProxy = &upstreamproxy.ParentProxy{
			Type:     *proxyType,
			Hostname: *proxyHost,
			Port:     *proxyPort,
			Username: *proxyUsername,
			Password: *proxyPassword,
		}
		if !plonkArgs.parentProxy.IsComplete() {
			return nil, errors.TraceNew("incomplete proxy arguments")
		}
	}

	return plonkArgs, nil
}

// checkKnownHost looks for a "name value" line for the server in a known
// hosts file.
func checkKnownHost(filename, serverAddress string, serverPort int) error {

	file, err := os.Open(filename)
	if err != nil {
		return errors.Trace(err)
	}
	defer file.Close()

	name := fmt.Sprintf("rsa2@%d:%s", serverPort, serverAddress)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(nil, 1<<20)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 && fields[0] == name {
			return nil
		}
	}
	if scanner.Err() != nil {
		return errors.Trace(scanner.Err())
	}
	return errors.Tracef("no host key for %s", name)
}

// dialServer connects to the server, through the parent proxy when one is
// specified, and reads a single line.
func dialServer(plonkArgs *fakePlonkArgs) error {

	var dialer proxy.Dialer = &net.Dialer{Timeout: 5 * time.Second}
	if plonkArgs.parentProxy != nil {
		var err error
		dialer, err = plonkArgs.parentProxy.NewDialer(dialer)
		if err != nil {
			return errors.Trace(err)
		}
	}

	conn, err := dialer.Dial(
		"tcp", net.JoinHostPort(plonkArgs.serverAddress, strconv.Itoa(plonkArgs.serverPort)))
	if err != nil {
		return errors.Trace(err)
	}
	defer conn.Close()

	_, err = fmt.Fprintf(conn, "%s\n", plonkArgs.username)
	if err != nil {
		return errors.Trace(err)
	}
	_, err = bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return errors.Trace(err)
	}
	return nil
}

// StartSocksRelay runs a SOCKS proxy, accepting SOCKS4a and SOCKS5, which
// relays directly to each requested target. onConnect, when not nil, is
// called with each target before it is dialed. The returned function stops
// the proxy.
func StartSocksRelay(onConnect func(target string)) (string, func(), error) {

	listener, err := socks.ListenSocks("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, errors.Trace(err)
	}
	go relaySocksConnections(listener, onConnect)

	return listener.Addr().String(), func() { listener.Close() }, nil
}

func relaySocksConnections(listener *socks.SocksListener, onConnect func(target string)) {
	for {
		localConn, err := listener.AcceptSocks()
		if err != nil {
			if e, ok := err.(net.Error); ok && e.Temporary() {
				continue
			}
			return
		}
		go func() {
			defer localConn.Close()
			if onConnect != nil {
				onConnect(localConn.Req.Target)
			}
			remoteConn, err := net.Dial("tcp", localConn.Req.Target)
			if err != nil {
				localConn.Reject()
				return
			}
			defer remoteConn.Close()
			err = localConn.Grant(&net.TCPAddr{IP: net.ParseIP("0.0.0.0"), Port: 0})
			if err != nil {
				return
			}
			waitGroup := new(sync.WaitGroup)
			waitGroup.Add(1)
			go func() {
				defer waitGroup.Done()
				io.Copy(localConn, remoteConn)
				localConn.Close()
				remoteConn.Close()
			}()
			io.Copy(remoteConn, localConn)
			localConn.Close()
			remoteConn.Close()
			waitGroup.Wait()
		}()
	}
}

// StartEchoServer runs a TCP server that writes back each line it reads.
// The returned function stops the server.
func StartEchoServer() (string, func(), error) {

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, errors.Trace(err)
	}

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				reader := bufio.NewReader(conn)
				for {
					line, err := reader.ReadString('\n')
					if err != nil {
						return
					}
					_, err = conn.Write([]byte(line))
					if err != nil {
						return
					}
				}
			}()
		}
	}()

	return listener.Addr().String(), func() { listener.Close() }, nil
}
