// Package ipctest provides a minimal fake child process for exercising
// the IPC Supervisor in tests without spawning a real external agent:
// it dials the server's socket and plays back a scripted sequence of
// messages, mirroring the shape a real child's IPC client would use.
package ipctest

import (
	"time"

	"github.com/jienckebd/devloop/internal/ipc"
)

// ScriptedMessage is one message a FakeChild sends, with an optional
// delay before sending it.
type ScriptedMessage struct {
	Type    ipc.MessageType
	Payload interface{}
	Delay   time.Duration
}

// FakeChild drives an ipc.Client through a scripted conversation.
type FakeChild struct {
	client *ipc.Client
}

// NewFakeChild connects a FakeChild to socketPath under sessionID/requestID.
func NewFakeChild(socketPath, sessionID, requestID string) (*FakeChild, error) {
	c := ipc.NewClient(sessionID, requestID)
	if !c.Connect(socketPath) {
		return nil, errConnectFailed
	}
	return &FakeChild{client: c}, nil
}

var errConnectFailed = &connectError{}

type connectError struct{}

func (*connectError) Error() string { return "ipctest: could not connect fake child to socket" }

// Play sends each scripted message in order, waiting for its Delay
// before sending and draining the corresponding ack after each send.
func (f *FakeChild) Play(script []ScriptedMessage) error {
	for _, step := range script {
		if step.Delay > 0 {
			time.Sleep(step.Delay)
		}
		if sent := f.client.Send(step.Type, step.Payload); !sent {
			continue
		}
		if _, err := f.client.ReadAck(); err != nil {
			return err
		}
	}
	return nil
}

// Close disconnects the fake child.
func (f *FakeChild) Close() error {
	return f.client.Close()
}
