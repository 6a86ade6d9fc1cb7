package sdk

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/celerix-dev/celerix-dca/internal/engine"
	"github.com/celerix-dev/celerix-dca/pkg/schema"
)

// Line protocol commands. Every request is one line; JSON arguments follow
// the command after a single space.
const (
	CmdPing     = "PING"
	CmdQuit     = "QUIT"
	CmdGet      = "GET"
	CmdCases    = "CASES"
	CmdOverview = "OVERVIEW"
	CmdAgencies = "AGENCIES"
	CmdView     = "VIEW"
	CmdUpdate   = "UPDATE"
	CmdAudit    = "AUDIT"
	CmdImport   = "IMPORT"
)

// Error codes carried in "ERR <CODE> <message>" replies.
const (
	CodeValidation        = "VALIDATION"
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeBadRequest        = "BAD_REQUEST"
	CodeInternal          = "INTERNAL"
)

// ViewQuery is the argument of VIEW.
type ViewQuery struct {
	Agency schema.Agency `json:"agency"`
	Search string        `json:"search,omitempty"`
}

// ImportRow is one case of a JSON import. Amount and Age are pointers so an
// omitted field can be told apart from zero.
type ImportRow struct {
	ID           string           `json:"case_id"`
	CustomerName string           `json:"customer_name,omitempty"`
	Amount       *decimal.Decimal `json:"amount"`
	Age          *int             `json:"age"`
}

// ImportBatch is the argument of IMPORT and the JSON body of the HTTP import.
type ImportBatch struct {
	Source string      `json:"source"`
	Rows   []ImportRow `json:"rows"`
}

// NewImportBatch wraps records for the wire.
func NewImportBatch(source string, records []schema.Record) ImportBatch {
	rows := make([]ImportRow, len(records))
	for i, rec := range records {
		amount, age := rec.Amount, rec.Age
		rows[i] = ImportRow{ID: rec.ID, CustomerName: rec.CustomerName, Amount: &amount, Age: &age}
	}
	return ImportBatch{Source: source, Rows: rows}
}

// Records converts the rows into engine records. Rows missing the case id,
// the amount or the age reject the whole batch with a row-numbered
// ValidationError.
func (b ImportBatch) Records() ([]schema.Record, error) {
	verr := &engine.ValidationError{Schema: schema.ExpectedColumns}
	records := make([]schema.Record, 0, len(b.Rows))
	for i, row := range b.Rows {
		n := i + 1
		if strings.TrimSpace(row.ID) == "" {
			verr.Errors = append(verr.Errors, engine.FieldError{Row: n, Field: schema.ColumnCaseID, Message: "is required"})
		}
		if row.Amount == nil {
			verr.Errors = append(verr.Errors, engine.FieldError{Row: n, Field: schema.ColumnAmount, Message: "is required"})
		}
		if row.Age == nil {
			verr.Errors = append(verr.Errors, engine.FieldError{Row: n, Field: schema.ColumnAge, Message: "is required"})
		}
		if row.Amount == nil || row.Age == nil {
			continue
		}
		records = append(records, schema.Record{
			ID:           row.ID,
			CustomerName: row.CustomerName,
			Amount:       *row.Amount,
			Age:          *row.Age,
		})
	}
	if len(verr.Errors) > 0 {
		return nil, verr
	}
	return records, nil
}

// ErrorCode classifies an error for the wire.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidTransition):
		return CodeInvalidTransition
	default:
		return CodeInternal
	}
}

// RemoteError is a failure reported by the daemon.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Unwrap maps the wire code back onto the engine sentinels.
func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case CodeValidation:
		return ErrValidation
	case CodeNotFound:
		return ErrNotFound
	case CodeInvalidTransition:
		return ErrInvalidTransition
	}
	return nil
}

// parseErrorLine decodes "ERR <CODE> <message>". Lines without a known code
// are reported as INTERNAL with the whole text as message.
func parseErrorLine(line string) *RemoteError {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "ERR"))
	code, msg, _ := strings.Cut(rest, " ")
	switch code {
	case CodeValidation, CodeNotFound, CodeInvalidTransition, CodeBadRequest, CodeInternal:
		return &RemoteError{Code: code, Message: msg}
	}
	return &RemoteError{Code: CodeInternal, Message: rest}
}
