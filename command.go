package atom

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/npekslin/atom/serialization"
)

// CommandAdd registers handler under name on this element, invocable
// by any other element's CommandSend. timeout is reported to callers
// in the acknowledge frame and is advisory -- it's the caller's
// responsibility to give up after it elapses; the callee here never
// enforces it against its own handler. Per spec.md §7, reserved
// command names are rejected.
func (e *Element) CommandAdd(name string, handler HandlerFunc, timeout time.Duration, ser string) error {
	if handler == nil {
		return fmt.Errorf("atom: command %q: handler must not be nil", name)
	}
	if _, reserved := reservedCommands[name]; reserved {
		return fmt.Errorf("atom: %q is a reserved command name", name)
	}
	if !e.serde.IsValid(ser) {
		return fmt.Errorf("%w: %q", serialization.ErrUnknownTag, ser)
	}

	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.handlers[name] = &commandSpec{
		handler:       handler,
		serialization: ser,
		timeout:       timeout.Milliseconds(),
	}
	return nil
}

// addBuiltin installs a NoArgHandlerFunc under a reserved name,
// bypassing CommandAdd's reserved-name rejection. Used only by
// registerBuiltins and HealthcheckSet.
func (e *Element) addBuiltin(name string, handler NoArgHandlerFunc, ser string) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.handlers[name] = &commandSpec{
		noArgHandler:  handler,
		serialization: ser,
		timeout:       DefaultResponseTimeout.Milliseconds(),
	}
}

// HealthcheckSet overrides the default healthcheck handler, which
// otherwise always reports healthy. handler should return a Response
// with ErrCode NoError when the element considers itself healthy.
func (e *Element) HealthcheckSet(handler NoArgHandlerFunc) {
	e.addBuiltin(CommandHealthcheck, handler, serialization.None)
}

// CommandLoop runs until ctx is canceled or CommandLoopShutdown is
// called: it blocks on the element's own command stream, acknowledges
// each command with the caller-visible timeout, dispatches to the
// registered handler, and writes the handler's Response back to the
// caller's response stream. Intended to be run in its own goroutine.
func (e *Element) CommandLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stopCh:
			return nil
		default:
		}

		entries, err := e.pool.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{commandStreamKey(e.name), e.commandLastID},
			Count:   1,
			Block:   MaxBlock,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Error("command loop: xread failed", "error", err)
			continue
		}
		if len(entries) == 0 || len(entries[0].Messages) == 0 {
			continue
		}

		msg := entries[0].Messages[0]
		e.commandLastID = msg.ID
		e.handleCommand(ctx, msg.ID, msg.Values)
	}
}

// CommandLoopShutdown requests a graceful exit of CommandLoop. The loop
// checks for the request before each read of the command stream, so it
// returns after finishing any command currently in flight; an idle loop
// returns only once its current blocking read (up to MaxBlock) ends.
func (e *Element) CommandLoopShutdown() {
	if e.stopped.CAS(false, true) {
		close(e.stopCh)
	}
}

func (e *Element) handleCommand(ctx context.Context, cmdID string, values map[string]interface{}) {
	caller, _ := values["element"].(string)
	cmdName, _ := values["cmd"].(string)
	rawData := toBytes(values["data"])

	if caller == "" {
		e.logger.Error(ErrNoCaller.Error(), "cmd_id", cmdID)
		return
	}

	e.handlersMu.RLock()
	spec, ok := e.handlers[cmdName]
	e.handlersMu.RUnlock()

	timeoutMS := DefaultResponseTimeout.Milliseconds()
	if ok {
		timeoutMS = spec.timeout
	}

	ack := acknowledgeFrame{Element: e.name, CmdID: cmdID, Timeout: timeoutMS}
	if err := e.pool.withPipeline(ctx, func(p redis.Pipeliner) {
		p.XAdd(ctx, &redis.XAddArgs{
			Stream: responseStreamKey(caller),
			MaxLen: DefaultStreamLen,
			Approx: true,
			Values: ack.values(),
		})
	}); err != nil {
		e.logger.Error("failed to send acknowledge", "error", err, "cmd", cmdName)
		return
	}

	response := e.dispatch(cmdName, spec, ok, rawData)
	if ok && response.Serialization == "" {
		response.Serialization = spec.serialization
	}
	commandDispatched.WithLabelValues(cmdName, dispatchResultLabel(response.ErrCode)).Inc()

	frame := e.buildResponseFrame(caller, cmdName, cmdID, response)
	if err := e.pool.withPipeline(ctx, func(p redis.Pipeliner) {
		p.XAdd(ctx, &redis.XAddArgs{
			Stream: responseStreamKey(caller),
			MaxLen: DefaultStreamLen,
			Approx: true,
			Values: frame.values(),
		})
	}); err != nil {
		e.logger.Error("failed to send response", "error", err, "cmd", cmdName)
	}
}

func (e *Element) dispatch(cmdName string, spec *commandSpec, known bool, rawData []byte) (resp Response) {
	if !known {
		e.logger.Error("received unsupported command", "cmd", cmdName)
		return Response{ErrCode: CommandUnsupported, ErrStr: "unsupported command"}
	}

	defer func() {
		if r := recover(); r != nil {
			e.telemetry.captureCommandPanic(cmdName, r)
			e.logger.Error("command handler panicked", "cmd", cmdName, "panic", r)
			resp = Response{ErrCode: CallbackFailed, ErrStr: fmt.Sprintf("handler for %q panicked", cmdName)}
		}
	}()

	if spec.noArgHandler != nil {
		resp = spec.noArgHandler()
	} else {
		data, err := e.serde.Deserialize(spec.serialization, rawData)
		if err != nil {
			return Response{ErrCode: InvalidData, ErrStr: err.Error()}
		}
		resp = spec.handler(data)
	}

	if resp.ErrCode != NoError {
		resp.ErrCode += UserErrorsBegin
	}
	return resp
}

func (e *Element) buildResponseFrame(caller, cmdName, cmdID string, resp Response) responseFrame {
	frame := responseFrame{
		Element: e.name,
		Cmd:     cmdName,
		CmdID:   cmdID,
		ErrCode: resp.ErrCode,
		ErrStr:  resp.ErrStr,
	}
	if resp.Data != nil {
		ser := resp.Serialization
		if ser == "" {
			ser = serialization.None
		}
		data, err := e.serde.Serialize(ser, resp.Data)
		if err != nil {
			e.logger.Error("failed to serialize response data", "error", err, "cmd", cmdName)
			frame.ErrCode = InternalError
			frame.ErrStr = err.Error()
			return frame
		}
		frame.Data = data
		frame.Ser = ser
	}
	return frame
}

func dispatchResultLabel(errCode int) string {
	if errCode == NoError {
		return "ok"
	}
	return "error"
}

func toBytes(v interface{}) []byte {
	switch b := v.(type) {
	case []byte:
		return b
	case string:
		return []byte(b)
	default:
		return nil
	}
}

// CommandSendOption configures a CommandSend call.
type CommandSendOption func(*commandSendOptions)

type commandSendOptions struct {
	ackTimeout time.Duration
	ser        string
}

// WithACKTimeout overrides DefaultACKTimeout for one CommandSend call.
func WithACKTimeout(d time.Duration) CommandSendOption {
	return func(o *commandSendOptions) { o.ackTimeout = d }
}

// WithSendSerialization sets the wire serialization CommandSend uses
// to encode data. Defaults to serialization.None.
func WithSendSerialization(ser string) CommandSendOption {
	return func(o *commandSendOptions) { o.ser = ser }
}

// CommandSend issues cmd to element, blocks for its acknowledge and
// then its response, and returns the callee's Response. Per spec.md
// §7, a failure to acknowledge or respond within the effective
// timeouts is reported in-band as NoAck/NoResponse, never as a Go
// error. CommandSend's error return carries failures to serialize data
// or to write the command frame; a transport error while waiting for
// the acknowledge or the response is also reported in-band, as
// NoAck/NoResponse with the error text in ErrStr.
func (e *Element) CommandSend(ctx context.Context, element, cmd string, data interface{}, opts ...CommandSendOption) (Response, error) {
	options := commandSendOptions{ackTimeout: DefaultACKTimeout, ser: serialization.None}
	for _, opt := range opts {
		opt(&options)
	}

	start := time.Now()
	localLastID := e.responseCursor.get()

	var payload []byte
	if data != nil {
		encoded, err := e.serde.Serialize(options.ser, data)
		if err != nil {
			return Response{}, fmt.Errorf("atom: command_send: serialize: %w", err)
		}
		payload = encoded
	}

	frame := cmdFrame{Element: e.name, Cmd: cmd, Data: payload}
	cmdID, err := e.sendCommandFrame(ctx, element, frame)
	if err != nil {
		return Response{}, fmt.Errorf("atom: command_send: %w", err)
	}

	timeoutMS, err := e.awaitAcknowledge(ctx, element, cmd, cmdID, localLastID, options.ackTimeout)
	if err != nil {
		observeCommandSendResult(element, cmd, "no_ack", start)
		return Response{ErrCode: NoAck, ErrStr: err.Error()}, nil
	}

	resp, err := e.awaitResponse(ctx, element, cmd, cmdID, localLastID, time.Duration(timeoutMS)*time.Millisecond)
	if err != nil {
		observeCommandSendResult(element, cmd, "no_response", start)
		return Response{ErrCode: NoResponse, ErrStr: err.Error()}, nil
	}

	result := "ok"
	if resp.ErrCode != NoError {
		result = "error"
	}
	observeCommandSendResult(element, cmd, result, start)
	return resp, nil
}

// sendCommandFrame appends frame to element's command stream and
// returns the assigned id, the cmd_id callers then watch for in the
// response stream.
func (e *Element) sendCommandFrame(ctx context.Context, element string, frame cmdFrame) (string, error) {
	var cmd *redis.StringCmd
	err := e.pool.withPipeline(ctx, func(p redis.Pipeliner) {
		cmd = p.XAdd(ctx, &redis.XAddArgs{
			Stream: commandStreamKey(element),
			MaxLen: DefaultStreamLen,
			Approx: true,
			Values: frame.values(),
		})
	})
	if err != nil {
		return "", err
	}
	return cmd.Val(), nil
}

// awaitAcknowledge polls this element's own response stream from
// localLastID until it sees an acknowledge carrying cmdID from
// element, or ackTimeout elapses. Any other entry observed along the
// way advances the shared responseCursor (but never localLastID,
// which must keep scanning from where this call started).
func (e *Element) awaitAcknowledge(ctx context.Context, element, cmd, cmdID, localLastID string, ackTimeout time.Duration) (int64, error) {
	deadline := time.Now().Add(ackTimeout)
	cursor := localLastID

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, fmt.Errorf("did not receive acknowledge from %s", element)
		}
		if remaining < time.Millisecond {
			remaining = time.Millisecond // XREAD BLOCK takes whole ms; 0 would block without limit
		}

		res, err := e.pool.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{responseStreamKey(e.name), cursor},
			Block:   remaining,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return 0, err
		}
		if len(res) == 0 {
			continue
		}

		for _, msg := range res[0].Messages {
			cursor = msg.ID
			e.responseCursor.advance(msg.ID)

			if msg.Values["element"] == element && fmt.Sprint(msg.Values["cmd_id"]) == cmdID {
				if t, ok := msg.Values["timeout"]; ok {
					timeoutMS, err := strconv.ParseInt(fmt.Sprint(t), 10, 64)
					if err == nil {
						return timeoutMS, nil
					}
				}
			}
		}
	}
}

// awaitResponse polls for the final response the way awaitAcknowledge
// polls for the acknowledge, distinguishing by cmd_id.
func (e *Element) awaitResponse(ctx context.Context, element, cmd, cmdID, cursor string, timeout time.Duration) (Response, error) {
	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Response{}, fmt.Errorf("did not receive response from %s", element)
		}
		if remaining < time.Millisecond {
			remaining = time.Millisecond // XREAD BLOCK takes whole ms; 0 would block without limit
		}

		res, err := e.pool.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{responseStreamKey(e.name), cursor},
			Block:   remaining,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return Response{}, err
		}
		if len(res) == 0 {
			continue
		}

		for _, msg := range res[0].Messages {
			cursor = msg.ID
			e.responseCursor.advance(msg.ID)

			if msg.Values["element"] != element || fmt.Sprint(msg.Values["cmd_id"]) != cmdID {
				continue
			}
			if _, ok := msg.Values["err_code"]; !ok {
				continue
			}

			return e.decodeResponse(cmd, element, msg.Values)
		}
	}
}

func (e *Element) decodeResponse(cmd, element string, values map[string]interface{}) (Response, error) {
	errCode, _ := strconv.Atoi(fmt.Sprint(values["err_code"]))
	errStr, _ := values["err_str"].(string)
	if errCode != NoError {
		e.logger.Error("command_send received error response", "element", element, "cmd", cmd, "err_str", errStr)
	}

	raw := toBytes(values["data"])
	if len(raw) == 0 {
		return Response{ErrCode: errCode, ErrStr: errStr}, nil
	}

	ser := serialization.None
	if tag, ok := values["ser"].(string); ok && tag != "" {
		ser = tag
	}
	data, err := e.serde.Deserialize(ser, raw)
	if err != nil {
		e.logger.Warn("could not deserialize response", "error", err)
		return Response{ErrCode: errCode, ErrStr: errStr, Data: raw}, nil
	}

	return Response{ErrCode: errCode, ErrStr: errStr, Data: data}, nil
}
