package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind identifies the category of a datapond error. Kinds are part of the
// wire contract between tenant, controller and shards.
type Kind string

const (
	KindUnauthorized   Kind = "Unauthorized"
	KindNotFound       Kind = "NotFound"
	KindConflict       Kind = "Conflict"
	KindInvalidPayload Kind = "InvalidPayload"
	KindUploadError    Kind = "UploadError"
	KindNotKnown       Kind = "NotKnown"
)

// errorDomain is stamped on every ErrorInfo detail we emit.
const errorDomain = "datapond"

// Error represents a structured error with kind, message and an optional
// nested cause. A downstream *Error is kept as Cause rather than flattened
// into the message, so callers can still branch on the downstream kind.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports kind equality so errors.Is(err, &Error{Kind: KindNotFound}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// New creates a new Error
func New(kind Kind, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	e.Details[key] = value
	return e
}

// Convenience constructors

func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message, nil)
}

func NotFound(message string) *Error {
	return New(KindNotFound, message, nil)
}

func Conflict(message string) *Error {
	return New(KindConflict, message, nil)
}

func InvalidPayload(message string) *Error {
	return New(KindInvalidPayload, message, nil)
}

// UploadFailed wraps a failed downstream shard write.
func UploadFailed(shardID string, cause error) *Error {
	return New(KindUploadError, "failed to upload file", cause).
		WithDetail("shard_id", shardID)
}

// NotKnown wraps a downstream failure that has no more specific kind.
func NotKnown(message string, cause error) *Error {
	return New(KindNotKnown, message, cause)
}

// UserNotFound is returned when a user has no placement record.
func UserNotFound(userID string) *Error {
	return NotFound(fmt.Sprintf("could not find user with given id=%s", userID)).
		WithDetail("user_id", userID)
}

// ShardNotFound is returned when a shard is not assigned to the user.
func ShardNotFound(shardID string) *Error {
	return NotFound(fmt.Sprintf("could not find shard with given id=%s", shardID)).
		WithDetail("shard_id", shardID)
}

// FileNotFound is returned by shards for unknown file ids.
func FileNotFound(fileID string) *Error {
	return NotFound(fmt.Sprintf("could not find file with given id=%s", fileID)).
		WithDetail("file_id", fileID)
}

// As returns the outermost *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf extracts the kind of the outermost *Error; non-structured errors
// report KindNotKnown.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindNotKnown
}

// IsKind reports whether the outermost structured error has the given kind.
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// Downstream returns the structured error nested directly below err, if any.
func Downstream(err error) (*Error, bool) {
	e, ok := As(err)
	if !ok || e.Cause == nil {
		return nil, false
	}
	return As(e.Cause)
}

// ToGRPCStatus converts err to a gRPC status. Every *Error in the chain is
// encoded as one ErrorInfo detail, outermost first.
func ToGRPCStatus(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}
	e, ok := As(err)
	if !ok {
		if st, isStatus := status.FromError(err); isStatus {
			return st
		}
		return status.New(codes.Internal, err.Error())
	}

	st := status.New(e.toGRPCCode(), e.Error())

	infos := make([]*errdetails.ErrorInfo, 0, 2)
	var cur error = e
	for cur != nil {
		ce, isErr := cur.(*Error)
		if !isErr {
			infos = append(infos, &errdetails.ErrorInfo{
				Reason:   string(KindNotKnown),
				Domain:   errorDomain,
				Metadata: map[string]string{"message": cur.Error()},
			})
			break
		}
		md := map[string]string{"message": ce.Message}
		for k, v := range ce.Details {
			md[k] = fmt.Sprint(v)
		}
		infos = append(infos, &errdetails.ErrorInfo{
			Reason:   string(ce.Kind),
			Domain:   errorDomain,
			Metadata: md,
		})
		cur = ce.Cause
	}

	detailed := st
	for _, info := range infos {
		next, derr := detailed.WithDetails(info)
		if derr != nil {
			return st
		}
		detailed = next
	}
	return detailed
}

// FromGRPC rebuilds the *Error chain carried by a gRPC error. Errors without
// datapond details become NotKnown with the status message.
func FromGRPC(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}
	st, ok := status.FromError(err)
	if !ok {
		return NotKnown(err.Error(), nil)
	}

	var chain []*Error
	for _, d := range st.Details() {
		info, isInfo := d.(*errdetails.ErrorInfo)
		if !isInfo || info.GetDomain() != errorDomain {
			continue
		}
		e := New(Kind(info.GetReason()), info.GetMetadata()["message"], nil)
		for k, v := range info.GetMetadata() {
			if k != "message" {
				e.Details[k] = v
			}
		}
		chain = append(chain, e)
	}

	if len(chain) == 0 {
		return NotKnown(st.Message(), nil).WithDetail("grpc_code", st.Code().String())
	}
	for i := len(chain) - 1; i > 0; i-- {
		chain[i-1].Cause = chain[i]
	}
	return chain[0]
}

// toGRPCCode maps kinds to gRPC codes
func (e *Error) toGRPCCode() codes.Code {
	switch e.Kind {
	case KindUnauthorized:
		return codes.PermissionDenied
	case KindNotFound:
		return codes.NotFound
	case KindConflict:
		return codes.AlreadyExists
	case KindInvalidPayload:
		return codes.InvalidArgument
	case KindUploadError:
		return codes.Aborted
	case KindNotKnown:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}
