// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package message

// ErrorCode represents an ebMS3 error code
type ErrorCode struct {
	Code             string
	Severity         string
	ShortDescription string
	Category         string
}

// Severity values
const (
	SeverityFailure = "failure"
	SeverityWarning = "warning"
)

// Predefined ebMS3 error codes
var (
	ErrorValueInconsistent = ErrorCode{
		Code:             "EBMS:0003",
		Severity:         SeverityFailure,
		ShortDescription: "ValueInconsistent",
		Category:         "Content",
	}

	ErrorEmptyMessagePartition = ErrorCode{
		Code:             "EBMS:0006",
		Severity:         SeverityWarning,
		ShortDescription: "EmptyMessagePartitionChannel",
		Category:         "Communication",
	}

	ErrorProcessingModeMismatch = ErrorCode{
		Code:             "EBMS:0010",
		Severity:         SeverityFailure,
		ShortDescription: "ProcessingModeMismatch",
		Category:         "Processing",
	}

	ErrorFailedAuthentication = ErrorCode{
		Code:             "EBMS:0101",
		Severity:         SeverityFailure,
		ShortDescription: "FailedAuthentication",
		Category:         "Processing",
	}

	ErrorFailedDecryption = ErrorCode{
		Code:             "EBMS:0102",
		Severity:         SeverityFailure,
		ShortDescription: "FailedDecryption",
		Category:         "Processing",
	}

	ErrorDeliveryFailure = ErrorCode{
		Code:             "EBMS:0202",
		Severity:         SeverityFailure,
		ShortDescription: "DeliveryFailure",
		Category:         "Communication",
	}

	ErrorDecompressionFailure = ErrorCode{
		Code:             "EBMS:0303",
		Severity:         SeverityFailure,
		ShortDescription: "DecompressionFailure",
		Category:         "Communication",
	}
)

// NewErrorEntry creates an Error element for code
func NewErrorEntry(code ErrorCode, refToMessageInError, detail string) *Error {
	return &Error{
		ErrorCode:           code.Code,
		Severity:            code.Severity,
		Category:            code.Category,
		Origin:              "ebMS",
		ShortDescription:    code.ShortDescription,
		RefToMessageInError: refToMessageInError,
		ErrorDetail:         detail,
	}
}
