package grpccomm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/AnishMulay/simplefs/internal/communication"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// The service is declared by hand so both ends can exchange structpb.Struct envelopes without
// generated stubs.
const (
	serviceName       = "simplefs.communication.MessageService"
	sendMessageMethod = "/" + serviceName + "/SendMessage"
)

type messageServer interface {
	SendMessage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var messageServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*messageServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SendMessage", Handler: sendMessageHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "simplefs/communication.proto",
}

func sendMessageHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(messageServer).SendMessage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: sendMessageMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(messageServer).SendMessage(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Envelope field names.
const (
	fieldFrom    = "from"
	fieldType    = "type"
	fieldPayload = "payload"
	fieldCode    = "code"
	fieldBody    = "body"
	fieldHeaders = "headers"
)

func encodeRequest(msg communication.Message) (*structpb.Struct, error) {
	fields := map[string]any{
		fieldFrom: msg.From,
		fieldType: msg.Type,
	}
	if msg.Payload != nil {
		raw, err := json.Marshal(msg.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", communication.ErrPayloadMarshalFailed, err)
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return nil, fmt.Errorf("%w: %v", communication.ErrPayloadMarshalFailed, err)
		}
		fields[fieldPayload] = generic
	}

	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", communication.ErrPayloadMarshalFailed, err)
	}
	return st, nil
}

// decodeRequest rebuilds the message and converts the payload into the type registered for the
// message type.
func decodeRequest(st *structpb.Struct, lookup func(string) (reflect.Type, bool)) (communication.Message, error) {
	m := st.AsMap()
	msg := communication.Message{}
	msg.From, _ = m[fieldFrom].(string)
	msg.Type, _ = m[fieldType].(string)
	if msg.Type == "" {
		return msg, fmt.Errorf("%w: missing type", communication.ErrEnvelopeInvalid)
	}

	payload, ok := m[fieldPayload]
	if !ok || payload == nil {
		return msg, nil
	}

	payloadType, ok := lookup(msg.Type)
	if !ok {
		return msg, fmt.Errorf("%w: %s", communication.ErrUnknownType, msg.Type)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return msg, fmt.Errorf("%w: %v", communication.ErrPayloadUnmarshalFailed, err)
	}
	ptr := reflect.New(payloadType)
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return msg, fmt.Errorf("%w: %v", communication.ErrPayloadUnmarshalFailed, err)
	}
	msg.Payload = ptr.Elem().Interface()
	return msg, nil
}

func encodeResponse(resp *communication.Response) (*structpb.Struct, error) {
	headers := make(map[string]any, len(resp.Headers))
	for k, v := range resp.Headers {
		headers[k] = v
	}
	return structpb.NewStruct(map[string]any{
		fieldCode:    string(resp.Code),
		fieldBody:    base64.StdEncoding.EncodeToString(resp.Body),
		fieldHeaders: headers,
	})
}

func decodeResponse(st *structpb.Struct) (*communication.Response, error) {
	m := st.AsMap()
	code, _ := m[fieldCode].(string)
	if code == "" {
		return nil, fmt.Errorf("%w: missing code", communication.ErrEnvelopeInvalid)
	}

	resp := &communication.Response{Code: communication.SandCode(code)}
	if body, _ := m[fieldBody].(string); body != "" {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", communication.ErrEnvelopeInvalid, err)
		}
		resp.Body = decoded
	}
	if headers, ok := m[fieldHeaders].(map[string]any); ok && len(headers) > 0 {
		resp.Headers = make(map[string]string, len(headers))
		for k, v := range headers {
			resp.Headers[k], _ = v.(string)
		}
	}
	return resp, nil
}
