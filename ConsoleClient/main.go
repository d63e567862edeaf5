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

package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon"
	"github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon/common/errors"
	"github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon/common/protocol"
	"github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon/common/stopsignal"
	"golang.org/x/net/proxy"
)

const (
	connectRetryDelay     = 2 * time.Second
	periodicCheckInterval = 1 * time.Second
)

func main() {

	// Define command-line parameters

	var configFilename string
	flag.StringVar(&configFilename, "config", "", "configuration input file")

	var serverEntryFilename string
	flag.StringVar(&serverEntryFilename, "serverEntry", "", "encoded server entry input file (overrides TargetServerEntry)")

	var formatNotices bool
	flag.BoolVar(&formatNotices, "formatNotices", false, "emit notices in human-readable format")

	var noticeFilename string
	flag.StringVar(&noticeFilename, "notices", "", "notices output file (defaults to stderr)")

	var rotatingRetries int
	flag.IntVar(&rotatingRetries, "rotatingRetries", 3, "notices file reopen attempts after rotation")

	var connectAttempts int
	flag.IntVar(&connectAttempts, "retries", 3, "connection attempts before giving up (0 for no limit)")

	var verifyAddress string
	flag.StringVar(&verifyAddress, "verify", "", "host:port to dial through the tunnel once connected")

	var listHostKeys bool
	flag.BoolVar(&listHostKeys, "listHostKeys", false, "print registered host keys and exit")

	var versionDetails bool
	flag.BoolVar(&versionDetails, "version", false, "print build information and exit")
	flag.BoolVar(&versionDetails, "v", false, "print build information and exit")

	flag.Parse()

	if versionDetails {
		printBuildInfo()
		os.Exit(0)
	}

	// Initialize notice output

	var noticeWriter io.Writer = os.Stderr
	if formatNotices {
		noticeWriter = psiphon.NewNoticeConsoleRewriter(noticeWriter)
	}

	if noticeFilename != "" {
		var extraOutput io.Writer
		if formatNotices {
			extraOutput = noticeWriter
		}
		err := psiphon.SetNoticeFiles(noticeFilename, rotatingRetries, extraOutput)
		if err != nil {
			fmt.Printf("error initializing notice files: %s\n", err)
			os.Exit(1)
		}
	} else {
		psiphon.SetNoticeOutput(noticeWriter)
	}

	// Handle required config file parameter

	// EmitDiagnosticNotices is taken from the config; force to true
	// to emit diagnostics when config errors occur.

	if configFilename == "" {
		psiphon.SetEmitDiagnosticNotices(true)
		psiphon.NoticeError("configuration file is required")
		os.Exit(1)
	}
	configFileContents, err := os.ReadFile(configFilename)
	if err != nil {
		psiphon.SetEmitDiagnosticNotices(true)
		psiphon.NoticeError("error loading configuration file: %s", err)
		os.Exit(1)
	}
	config, err := psiphon.LoadConfig(configFileContents)
	if err != nil {
		psiphon.SetEmitDiagnosticNotices(true)
		psiphon.NoticeError("error processing configuration file: %s", err)
		os.Exit(1)
	}

	psiphon.SetEmitDiagnosticNotices(config.EmitDiagnosticNotices)

	psiphon.NoticeBuildInfo()

	if !psiphon.IsOSSupported() {
		psiphon.NoticeUserWarning("this operating system version is not supported")
		os.Exit(1)
	}

	// Initialize data store

	dataStore, err := psiphon.OpenDataStore(config)
	if err != nil {
		psiphon.NoticeError("error initializing datastore: %s", err)
		os.Exit(1)
	}
	defer dataStore.Close()

	if listHostKeys {
		err := printHostKeys(dataStore)
		if err != nil {
			psiphon.NoticeError("error listing host keys: %s", err)
			os.Exit(1)
		}
		return
	}

	session, err := loadSession(config, serverEntryFilename)
	if err != nil {
		psiphon.NoticeError("error loading server entry: %s", err)
		os.Exit(1)
	}

	// Run the transport

	stopSignal := stopsignal.NewStopSignal()

	transport, err := psiphon.NewSSHTransport(
		config,
		config.TunnelProtocol,
		stopSignal.StopInfo(stopsignal.STOP_REASON_ALL),
		psiphon.WithDataStore(dataStore))
	if err != nil {
		psiphon.NoticeError("error creating transport: %s", err)
		os.Exit(1)
	}

	systemStopSignal := make(chan os.Signal, 1)
	signal.Notify(systemStopSignal, os.Interrupt, syscall.SIGTERM)

	stopped := make(chan struct{})
	go func() {
		<-systemStopSignal
		psiphon.NoticeInfo("shutdown by system")
		stopSignal.SignalStop(stopsignal.STOP_REASON_EXIT)
		close(stopped)
	}()

	err = runTransport(transport, session, connectAttempts, verifyAddress, stopped)

	transport.Cleanup()

	psiphon.NoticeExiting()

	if err != nil {
		psiphon.NoticeError("%s", err)
		os.Exit(1)
	}
}

// runTransport connects the transport, reconnecting whenever plonk exits,
// until stopped is closed.
func runTransport(
	transport *psiphon.SSHTransport,
	session *protocol.SessionInfo,
	connectAttempts int,
	verifyAddress string,
	stopped <-chan struct{}) error {

	for {
		err := connectWithRetries(transport, session, connectAttempts, stopped)
		if err != nil {
			if psiphon.IsTransportAborted(err) {
				return nil
			}
			return errors.Trace(err)
		}

		if verifyAddress != "" {
			err := verifyTunnel(transport.GetLocalSocksProxyPort(), verifyAddress)
			if err != nil {
				psiphon.NoticeWarning("tunnel verification failed: %s", err)
			} else {
				psiphon.NoticeInfo("tunnel verified: %s", verifyAddress)
			}
		}

		err = superviseTransport(transport, stopped)
		if err != nil {
			psiphon.NoticeWarning("tunnel failed: %s", err)
		}

		select {
		case <-stopped:
			return nil
		default:
		}

		psiphon.NoticeInfo("reconnecting")
	}
}

func connectWithRetries(
	transport *psiphon.SSHTransport,
	session *protocol.SessionInfo,
	connectAttempts int,
	stopped <-chan struct{}) error {

	for attempt := 1; ; attempt++ {

		err := transport.Connect(session)
		if err == nil {
			return nil
		}
		if psiphon.IsTransportAborted(err) {
			return errors.Trace(err)
		}

		psiphon.NoticeWarning("connect attempt %d failed: %s", attempt, err)

		if connectAttempts > 0 && attempt >= connectAttempts {
			return errors.Trace(err)
		}

		select {
		case <-stopped:
			return errors.Trace(err)
		case <-time.After(connectRetryDelay):
		}
	}
}

// superviseTransport returns once plonk exits or stopped is closed.
func superviseTransport(transport *psiphon.SSHTransport, stopped <-chan struct{}) error {

	ticker := time.NewTicker(periodicCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopped:
			return nil
		case <-ticker.C:
		}

		running, err := transport.DoPeriodicCheck()
		if err != nil {
			return errors.Trace(err)
		}
		if !running {
			return errors.TraceNew("plonk process exited")
		}
	}
}

// verifyTunnel dials address through the local SOCKS proxy.
func verifyTunnel(localSocksProxyPort int, address string) error {

	dialer, err := proxy.SOCKS5(
		"tcp",
		net.JoinHostPort("127.0.0.1", strconv.Itoa(localSocksProxyPort)),
		nil,
		&net.Dialer{Timeout: 10 * time.Second})
	if err != nil {
		return errors.Trace(err)
	}

	conn, err := dialer.Dial("tcp", address)
	if err != nil {
		return errors.Trace(err)
	}
	conn.Close()

	return nil
}

func loadSession(config *psiphon.Config, serverEntryFilename string) (*protocol.SessionInfo, error) {

	encodedServerEntry := config.TargetServerEntry

	if serverEntryFilename != "" {
		file, err := os.Open(serverEntryFilename)
		if err != nil {
			return nil, errors.Trace(err)
		}
		defer file.Close()

		// Use the first non-blank line of a server entry list.
		scanner := bufio.NewScanner(file)
		scanner.Buffer(nil, 1<<20)
		encodedServerEntry = ""
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				encodedServerEntry = line
				break
			}
		}
		if scanner.Err() != nil {
			return nil, errors.Trace(scanner.Err())
		}
	}

	if encodedServerEntry == "" {
		return nil, errors.TraceNew("no server entry")
	}

	session, err := protocol.DecodeSessionInfo(encodedServerEntry)
	if err != nil {
		return nil, errors.Trace(err)
	}
	session.ClientSessionID = config.ClientSessionID

	return session, nil
}

func printHostKeys(dataStore *psiphon.DataStore) error {

	records, err := dataStore.ListHostKeys()
	if err != nil {
		return errors.Trace(err)
	}

	for _, record := range records {
		fingerprint := record.Fingerprint
		if fingerprint == "" {
			fingerprint = "-"
		}
		fmt.Printf("%s  %s  %s\n",
			record.RegisteredTime.Format(time.RFC3339),
			record.Name,
			fingerprint)
	}

	return nil
}

func printBuildInfo() {

	b := psiphon.GetBuildInfo()

	var printableDependencies bytes.Buffer
	longestRepoUrl := 0

	sortedRepoUrls := make([]string, 0, len(b.Dependencies))
	for repoUrl := range b.Dependencies {
		repoUrlLength := len(repoUrl)
		if repoUrlLength > longestRepoUrl {
			longestRepoUrl = repoUrlLength
		}

		sortedRepoUrls = append(sortedRepoUrls, repoUrl)
	}
	sort.Strings(sortedRepoUrls)

	for _, repoUrl := range sortedRepoUrls {
		printableDependencies.WriteString(fmt.Sprintf("    %s  ", repoUrl))
		for i := 0; i < (longestRepoUrl - len(repoUrl)); i++ {
			printableDependencies.WriteString(" ")
		}
		printableDependencies.WriteString(fmt.Sprintf("%s\n", b.Dependencies[repoUrl]))
	}

	fmt.Printf("Psiphon SSH Transport Console Client\n  Build Date: %s\n  Built With: %s\n  Repository: %s\n  Revision: %s\n  Dependencies:\n%s\n", b.BuildDate, b.GoVersion, b.BuildRepo, b.BuildRev, printableDependencies.String())
}
