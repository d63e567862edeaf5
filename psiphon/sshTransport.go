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

package psiphon

import (
	"os"
	"sync"

	"github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon/common/errors"
	"github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon/common/protocol"
	"github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon/common/stopsignal"
	"github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon/upstreamproxy"
)

type TransportState int32

const (
	TRANSPORT_STATE_IDLE TransportState = iota
	TRANSPORT_STATE_AWAITING_HOST_CAPABILITY
	TRANSPORT_STATE_PREPARING
	TRANSPORT_STATE_LAUNCHING
	TRANSPORT_STATE_WAITING_FOR_READINESS
	TRANSPORT_STATE_READY
	TRANSPORT_STATE_FAILED
	TRANSPORT_STATE_CANCELLED
)

func (state TransportState) String() string {
	switch state {
	case TRANSPORT_STATE_IDLE:
		return "idle"
	case TRANSPORT_STATE_AWAITING_HOST_CAPABILITY:
		return "awaiting-host-capability"
	case TRANSPORT_STATE_PREPARING:
		return "preparing"
	case TRANSPORT_STATE_LAUNCHING:
		return "launching"
	case TRANSPORT_STATE_WAITING_FOR_READINESS:
		return "waiting-for-readiness"
	case TRANSPORT_STATE_READY:
		return "ready"
	case TRANSPORT_STATE_FAILED:
		return "failed"
	case TRANSPORT_STATE_CANCELLED:
		return "cancelled"
	}
	return "unknown"
}

// SSHTransport establishes a tunnel by running plonk, a plink derivative
// tunnel client, and waiting for it to open its local SOCKS proxy port.
//
// An SSHTransport runs at most one plonk process. Connect is not reentrant;
// Cleanup and the accessors may be called from any goroutine. A Cleanup
// during Connect ends that attempt: Connect stops any process it launches
// and fails with ErrTransportAborted, leaving the transport idle.
type SSHTransport struct {
	config                 *Config
	variant                *sshTransportVariant
	stopInfo               stopsignal.StopInfo
	launcher               ProcessLauncher
	knownHosts             KnownHostsStore
	dataStore              *DataStore
	executableSource       ExecutableSource
	systemProxySource      upstreamproxy.SystemProxySource
	socksProxyPortReceiver func(port int)

	connectMutex sync.Mutex

	mutex               sync.Mutex
	attempt             uint64
	state               TransportState
	process             Process
	localSocksProxyPort int
	executablePath      string
}

type SSHTransportOption func(*SSHTransport)

func WithProcessLauncher(launcher ProcessLauncher) SSHTransportOption {
	return func(transport *SSHTransport) {
		transport.launcher = launcher
	}
}

func WithKnownHostsStore(store KnownHostsStore) SSHTransportOption {
	return func(transport *SSHTransport) {
		transport.knownHosts = store
	}
}

// WithDataStore enables recording of extracted executables and registered
// host keys.
func WithDataStore(dataStore *DataStore) SSHTransportOption {
	return func(transport *SSHTransport) {
		transport.dataStore = dataStore
	}
}

func WithExecutableSource(source ExecutableSource) SSHTransportOption {
	return func(transport *SSHTransport) {
		transport.executableSource = source
	}
}

func WithSystemProxySource(source upstreamproxy.SystemProxySource) SSHTransportOption {
	return func(transport *SSHTransport) {
		transport.systemProxySource = source
	}
}

// WithSocksProxyPortReceiver sets a callback that receives the local SOCKS
// proxy port each time the transport becomes ready.
func WithSocksProxyPortReceiver(receiver func(port int)) SSHTransportOption {
	return func(transport *SSHTransport) {
		transport.socksProxyPortReceiver = receiver
	}
}

// NewSSHTransport creates a transport for tunnelProtocol, "SSH" or "OSSH".
// stopInfo is polled throughout Connect; when it reports a stop, Connect
// fails with ErrTransportAborted.
func NewSSHTransport(
	config *Config,
	tunnelProtocol string,
	stopInfo stopsignal.StopInfo,
	options ...SSHTransportOption) (*SSHTransport, error) {

	variant, err := getSSHTransportVariant(tunnelProtocol)
	if err != nil {
		return nil, errors.Trace(err)
	}

	transport := &SSHTransport{
		config:   config,
		variant:  variant,
		stopInfo: stopInfo,
	}

	for _, option := range options {
		option(transport)
	}

	if transport.launcher == nil {
		transport.launcher = NewProcessLauncher(config)
	}

	if transport.knownHosts == nil {
		transport.knownHosts, err = NewKnownHostsStore(config)
		if err != nil {
			return nil, errors.Trace(err)
		}
	}

	if transport.executableSource == nil && config.PlonkSourcePath != "" {
		transport.executableSource = &FileExecutableSource{Path: config.PlonkSourcePath}
	}

	if transport.systemProxySource == nil && !config.DisableSystemProxy {
		transport.systemProxySource = upstreamproxy.NewEnvironmentProxySource()
	}

	return transport, nil
}

// Connect runs plonk for session and returns once its local SOCKS proxy
// port accepts connections. Any previous plonk process is stopped first.
// On failure, the new process is stopped and the error wraps the failure
// kind, such as ErrCapabilityMissing or ErrReadinessTimeout.
func (transport *SSHTransport) Connect(session *protocol.SessionInfo) error {

	if !transport.connectMutex.TryLock() {
		return errors.TraceKind(ErrTransportBusy, nil)
	}
	defer transport.connectMutex.Unlock()

	transport.mutex.Lock()
	attempt := transport.attempt
	transport.mutex.Unlock()

	err := transport.connect(attempt, session)
	if err != nil {
		transport.stopProcess()
		if !IsTransportAborted(err) && !transport.isCurrentAttempt(attempt) {
			err = errors.TraceKind(ErrTransportAborted, err)
		}
		state := TRANSPORT_STATE_FAILED
		if IsTransportAborted(err) {
			state = TRANSPORT_STATE_CANCELLED
		}
		// After a Cleanup, the transport stays idle.
		_ = transport.advanceState(attempt, state)
		return errors.Trace(err)
	}

	return nil
}

func (transport *SSHTransport) connect(attempt uint64, session *protocol.SessionInfo) error {

	err := transport.advanceState(attempt, TRANSPORT_STATE_AWAITING_HOST_CAPABILITY)
	if err != nil {
		return errors.Trace(err)
	}

	tunnelProtocol := transport.variant.tunnelProtocol

	if session.SSHHostKey == "" || !session.HasCapability(tunnelProtocol) {
		return errors.TraceKindf(
			ErrCapabilityMissing, "server does not support %s", tunnelProtocol)
	}

	err = transport.advanceState(attempt, TRANSPORT_STATE_PREPARING)
	if err != nil {
		return errors.Trace(err)
	}

	executablePath, err := transport.getExecutablePath()
	if err != nil {
		return errors.Trace(err)
	}

	transport.stopProcess()

	preferredPort := transport.config.GetPreferredLocalSocksProxyPort()
	transport.setLocalSocksProxyPort(0)

	port, err := FindFreePort(
		preferredPort,
		transport.config.GetLocalSocksProxyPortMaxIncrement(),
		transport.stopInfo)
	if err != nil {
		return errors.Trace(err)
	}
	if port != preferredPort {
		NoticeSocksProxyPortInUse(preferredPort)
	}

	parentProxy, err := upstreamproxy.GetParentProxy(
		transport.config.SkipUpstreamProxy,
		transport.config.UpstreamProxyUrl,
		transport.systemProxySource)
	if err != nil {
		NoticeUpstreamProxyError(err)
		return errors.TraceKind(ErrParameter, err)
	}

	if session.ClientSessionID == "" && transport.config.ClientSessionID != "" {
		sessionCopy := *session
		sessionCopy.ClientSessionID = transport.config.ClientSessionID
		session = &sessionCopy
	}

	params, err := BuildSSHParameters(
		tunnelProtocol,
		session,
		port,
		session.GetSSHPassword(),
		parentProxy,
		transport.config.DebugPlonk)
	if err != nil {
		return errors.Trace(err)
	}

	// plonk runs in batch mode and will not prompt to accept an unknown
	// host key, so the key must be registered before launch. A failure is
	// not fatal here; plonk will then fail to connect.
	err = RegisterSSHHostKey(
		transport.knownHosts,
		transport.dataStore,
		params.ServerAddress,
		params.ServerPort,
		params.ServerHostKey)
	if err != nil {
		NoticeWarning("register SSH host key failed: %s", err)
	}

	if transport.stopInfo.IsStopped() {
		return errors.TraceKind(ErrTransportAborted, nil)
	}

	err = transport.advanceState(attempt, TRANSPORT_STATE_LAUNCHING)
	if err != nil {
		return errors.Trace(err)
	}

	NoticeConnectingServer(params.ServerAddress, tunnelProtocol, params.ServerPort)

	process, err := StartProcess(transport.launcher, executablePath, params.Args)
	if err != nil {
		return errors.Trace(err)
	}
	err = transport.setProcess(attempt, process)
	if err != nil {
		return errors.Trace(err)
	}

	NoticePlonkProcess(process.Pid(), params.CommandLine())

	err = transport.advanceState(attempt, TRANSPORT_STATE_WAITING_FOR_READINESS)
	if err != nil {
		return errors.Trace(err)
	}

	err = WaitForConnectability(
		port,
		transport.config.GetSSHConnectionTimeout(),
		process,
		transport.stopInfo)
	if err != nil {
		return errors.Trace(err)
	}

	err = transport.setReady(attempt, port)
	if err != nil {
		return errors.Trace(err)
	}

	if transport.socksProxyPortReceiver != nil {
		transport.socksProxyPortReceiver(port)
	}
	NoticeListeningSocksProxyPort(port)

	return nil
}

// getExecutablePath returns the configured plonk path or extracts plonk.
// Extraction happens once per transport.
func (transport *SSHTransport) getExecutablePath() (string, error) {

	transport.mutex.Lock()
	executablePath := transport.executablePath
	transport.mutex.Unlock()

	if executablePath != "" {
		return executablePath, nil
	}

	if transport.config.PlonkExecutablePath != "" {
		_, err := os.Stat(transport.config.PlonkExecutablePath)
		if err != nil {
			return "", errors.TraceKind(ErrExecutableProvision, err)
		}
		executablePath = transport.config.PlonkExecutablePath

	} else {
		if transport.executableSource == nil {
			return "", errors.TraceKindf(ErrExecutableProvision, "no plonk executable source")
		}
		var err error
		executablePath, err = ExtractExecutable(
			transport.executableSource,
			transport.dataStore,
			transport.config.DataStoreTempDirectory,
			PLONK_RESOURCE_ID,
			transport.config.PlonkExecutableFilename,
			false)
		if err != nil {
			return "", errors.Trace(err)
		}
	}

	transport.mutex.Lock()
	transport.executablePath = executablePath
	transport.mutex.Unlock()

	return executablePath, nil
}

// Cleanup stops any plonk process and returns the transport to the idle
// state, ending any Connect in progress. It is safe to call repeatedly.
func (transport *SSHTransport) Cleanup() error {

	transport.mutex.Lock()
	transport.attempt++
	process := transport.process
	transport.process = nil
	transport.localSocksProxyPort = 0
	changed := transport.state != TRANSPORT_STATE_IDLE
	transport.state = TRANSPORT_STATE_IDLE
	transport.mutex.Unlock()

	StopProcess(process)

	if changed {
		NoticeTransportState(transport.variant.tunnelProtocol, TRANSPORT_STATE_IDLE)
	}

	return nil
}

// DoPeriodicCheck returns true while the plonk process is running. An error
// is returned when the process state cannot be determined.
func (transport *SSHTransport) DoPeriodicCheck() (bool, error) {

	transport.mutex.Lock()
	process := transport.process
	transport.mutex.Unlock()

	if process == nil {
		return false, nil
	}

	status, err := PollProcess(process)
	switch status {
	case PROCESS_RUNNING:
		return true, nil
	case PROCESS_EXITED:
		return false, nil
	}
	return false, errors.Trace(err)
}

func (transport *SSHTransport) GetState() TransportState {
	transport.mutex.Lock()
	defer transport.mutex.Unlock()
	return transport.state
}

// GetLocalSocksProxyPort returns the local SOCKS proxy port of the ready
// tunnel, or 0.
func (transport *SSHTransport) GetLocalSocksProxyPort() int {
	transport.mutex.Lock()
	defer transport.mutex.Unlock()
	return transport.localSocksProxyPort
}

func (transport *SSHTransport) GetSessionID(session *protocol.SessionInfo) string {
	return session.SSHSessionID
}

// IsHandshakeRequired returns true when the session lacks fields this
// transport needs, which a server handshake would supply.
func (transport *SSHTransport) IsHandshakeRequired(session *protocol.SessionInfo) bool {
	return transport.variant.missingField(session) != ""
}

// IsServerRequestTunnelled is true: server API requests are made through
// the tunnel.
func (transport *SSHTransport) IsServerRequestTunnelled() bool {
	return true
}

func (transport *SSHTransport) GetTransportProtocolName() string {
	return transport.variant.tunnelProtocol
}

func (transport *SSHTransport) GetTransportDisplayName() string {
	return transport.variant.displayName
}

func (transport *SSHTransport) isCurrentAttempt(attempt uint64) bool {
	transport.mutex.Lock()
	defer transport.mutex.Unlock()
	return transport.attempt == attempt
}

func errAttemptEnded() error {
	return errors.TraceKindf(ErrTransportAborted, "transport cleaned up")
}

// advanceState sets the state of the Connect attempt. It fails once Cleanup
// has ended the attempt.
func (transport *SSHTransport) advanceState(attempt uint64, state TransportState) error {
	transport.mutex.Lock()
	if transport.attempt != attempt {
		transport.mutex.Unlock()
		return errAttemptEnded()
	}
	changed := transport.state != state
	transport.state = state
	transport.mutex.Unlock()

	if changed {
		NoticeTransportState(transport.variant.tunnelProtocol, state)
	}
	return nil
}

// setProcess records the process launched by the Connect attempt. When
// Cleanup has ended the attempt, the process is stopped instead.
func (transport *SSHTransport) setProcess(attempt uint64, process Process) error {
	transport.mutex.Lock()
	if transport.attempt != attempt {
		transport.mutex.Unlock()
		StopProcess(process)
		return errAttemptEnded()
	}
	transport.process = process
	transport.mutex.Unlock()
	return nil
}

// setReady publishes the local SOCKS proxy port with the ready state.
func (transport *SSHTransport) setReady(attempt uint64, port int) error {
	transport.mutex.Lock()
	if transport.attempt != attempt {
		transport.mutex.Unlock()
		return errAttemptEnded()
	}
	transport.localSocksProxyPort = port
	transport.state = TRANSPORT_STATE_READY
	transport.mutex.Unlock()

	NoticeTransportState(transport.variant.tunnelProtocol, TRANSPORT_STATE_READY)
	return nil
}

func (transport *SSHTransport) setLocalSocksProxyPort(port int) {
	transport.mutex.Lock()
	defer transport.mutex.Unlock()
	transport.localSocksProxyPort = port
}

func (transport *SSHTransport) stopProcess() {
	transport.mutex.Lock()
	process := transport.process
	transport.process = nil
	transport.mutex.Unlock()

	StopProcess(process)
}
