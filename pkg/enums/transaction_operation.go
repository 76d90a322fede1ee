package enums

import "fmt"

// TransactionOperation names one gateway exchange recorded in the transaction log.
type TransactionOperation string

const (
	TransactionOperationInit3D   TransactionOperation = "init_3d"
	TransactionOperationInquiry  TransactionOperation = "inquiry"
	TransactionOperationFinalize TransactionOperation = "finalize"
	TransactionOperationVoid     TransactionOperation = "void"
	TransactionOperationRefund   TransactionOperation = "refund"
	TransactionOperationCapture  TransactionOperation = "capture"
)

var validTransactionOperations = []TransactionOperation{
	TransactionOperationInit3D,
	TransactionOperationInquiry,
	TransactionOperationFinalize,
	TransactionOperationVoid,
	TransactionOperationRefund,
	TransactionOperationCapture,
}

// String implements fmt.Stringer.
func (o TransactionOperation) String() string {
	return string(o)
}

// IsValid reports whether the value is a known TransactionOperation.
func (o TransactionOperation) IsValid() bool {
	for _, candidate := range validTransactionOperations {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseTransactionOperation converts raw input into a TransactionOperation.
func ParseTransactionOperation(value string) (TransactionOperation, error) {
	for _, candidate := range validTransactionOperations {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction operation %q", value)
}
