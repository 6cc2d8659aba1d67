package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
)

// One WebSocket message carries one STOMP frame, optionally preceded by heart-beat newlines.

func encodeFrame(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeFrames returns every frame in data. Heart-beats are skipped.
func decodeFrames(data []byte) ([]*frame.Frame, error) {
	r := frame.NewReader(bytes.NewReader(data))
	var frames []*frame.Frame
	for {
		f, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return frames, nil
			}
			return frames, err
		}
		if f != nil {
			frames = append(frames, f)
		}
	}
}

func connectFrame(host, token string, heartbeat time.Duration) *frame.Frame {
	beat := strconv.FormatInt(heartbeat.Milliseconds(), 10)
	f := frame.New(frame.CONNECT,
		frame.AcceptVersion, "1.2,1.1",
		frame.Host, host,
		frame.HeartBeat, beat+","+beat,
	)
	if token != "" {
		f.Header.Add("Authorization", "Bearer "+token)
	}
	return f
}

func subscribeFrame(id, topic string) *frame.Frame {
	return frame.New(frame.SUBSCRIBE,
		frame.Id, id,
		frame.Destination, topic,
		frame.Ack, "auto",
	)
}

func unsubscribeFrame(id string) *frame.Frame {
	return frame.New(frame.UNSUBSCRIBE, frame.Id, id)
}

func sendFrame(destination string, body []byte) *frame.Frame {
	f := frame.New(frame.SEND,
		frame.Destination, destination,
		frame.ContentType, "application/json",
		frame.ContentLength, strconv.Itoa(len(body)),
	)
	f.Body = body
	return f
}

// negotiateHeartbeat applies the STOMP heart-beat rules to the client setting
// and the server's CONNECTED header. Zero disables the direction.
func negotiateHeartbeat(client time.Duration, serverHeader string) (send, expect time.Duration) {
	if client <= 0 || serverHeader == "" {
		return 0, 0
	}
	parts := strings.SplitN(serverHeader, ",", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	sx, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	sy, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	if sy > 0 {
		send = max(client, time.Duration(sy)*time.Millisecond)
	}
	if sx > 0 {
		expect = max(client, time.Duration(sx)*time.Millisecond)
	}
	return send, expect
}

func frameError(f *frame.Frame) error {
	msg := f.Header.Get(frame.Message)
	if msg == "" {
		msg = strings.TrimSpace(string(f.Body))
	}
	if msg == "" {
		msg = "unspecified"
	}
	return fmt.Errorf("stomp %s: %s", f.Command, msg)
}
