package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Identity errors
// 12000-12999: Problem & moderation errors
// 14000-14999: Contest & admission errors
// 16000-16999: Admin & Permission errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	CacheMiss  ErrorCode = 10201

	// Validation errors (10300-10399)
	ValidationFailed ErrorCode = 10300
	InvalidFormat    ErrorCode = 10301
	ConfigInvalid    ErrorCode = 10304

	// Messaging errors (10400-10499)
	PublishFailed ErrorCode = 10400

	// ========== Identity Errors (11000-11999) ==========

	TokenExpired ErrorCode = 11003
	TokenInvalid ErrorCode = 11004

	// ========== Problem Module Errors (12000-12999) ==========

	// Problem basic (12000-12099)
	ProblemNotFound     ErrorCode = 12000
	ProblemAccessDenied ErrorCode = 12001
	ProblemCreateFailed ErrorCode = 12002
	ProblemUpdateFailed ErrorCode = 12003
	ProblemDeleteFailed ErrorCode = 12004

	// Voting & trust (12300-12399)
	DuplicateVote                ErrorCode = 12300
	ProblemNotVotable            ErrorCode = 12301
	InvalidProblemsQuotaExceeded ErrorCode = 12302
	ProblemAlreadyValid          ErrorCode = 12303
	VoteFailed                   ErrorCode = 12304

	// ========== Contest Module Errors (14000-14999) ==========

	ContestNotFound     ErrorCode = 14000
	ContestNotStarted   ErrorCode = 14001
	ContestEnded        ErrorCode = 14002
	ContestAccessDenied ErrorCode = 14003
	ContestCreateFailed ErrorCode = 14004

	// Admission diagnostics (14300-14399)
	MissingSourceIP ErrorCode = 14300

	// ========== Admin & Permission Errors (16000-16999) ==========

	PermissionDenied       ErrorCode = 16000
	InsufficientPermission ErrorCode = 16001
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	CacheError: "Cache operation failed",
	CacheMiss:  "Cache miss",

	ValidationFailed: "Validation failed",
	InvalidFormat:    "Invalid format",
	ConfigInvalid:    "Invalid configuration",

	PublishFailed: "Failed to publish message",

	TokenExpired: "Token has expired",
	TokenInvalid: "Invalid token",

	ProblemNotFound:     "Problem not found",
	ProblemAccessDenied: "Access to this problem is denied",
	ProblemCreateFailed: "Failed to create problem",
	ProblemUpdateFailed: "Failed to update problem",
	ProblemDeleteFailed: "Failed to delete problem",

	DuplicateVote:                "You have already voted on this problem",
	ProblemNotVotable:            "This problem does not accept votes",
	InvalidProblemsQuotaExceeded: "Too many problems are still waiting for validation",
	ProblemAlreadyValid:          "Problem is already valid",
	VoteFailed:                   "Failed to record vote",

	ContestNotFound:     "Contest not found",
	ContestNotStarted:   "Contest has not started yet",
	ContestEnded:        "Contest has ended",
	ContestAccessDenied: "Access to this contest is denied",
	ContestCreateFailed: "Failed to create contest",

	MissingSourceIP: "Source address is required by the contest IP policy",

	PermissionDenied:       "Permission denied",
	InsufficientPermission: "Insufficient permission",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid:
		return 401
	case c == Forbidden, c == ProblemAccessDenied, c == ContestAccessDenied, c == MissingSourceIP:
		return 403
	case c >= 16000 && c < 16100: // Permission errors
		return 403
	case c == NotFound, c == RecordNotFound, c == ProblemNotFound, c == ContestNotFound:
		return 404
	case c == DuplicateVote, c == RecordAlreadyExists, c == ProblemAlreadyValid:
		return 409
	case c == ProblemNotVotable, c == ContestNotStarted, c == ContestEnded:
		return 422
	case c == InvalidProblemsQuotaExceeded, c == TooManyRequests:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams:
		return 400
	default:
		return 500
	}
}
