package lifecycle

import (
	"errors"

	"doccontrol/internal/repository"
	"doccontrol/internal/repository/mocks"
)

var errUnavailable = errors.New("store unavailable")

func mockFault(c repository.Collection, prefix string) mocks.Fault {
	return mocks.Fault{Method: "Create", Collection: c, KeyPrefix: prefix, Err: errUnavailable}
}

func mockFlakyFault(c repository.Collection, prefix string, times int) mocks.Fault {
	return mocks.Fault{Method: "Create", Collection: c, KeyPrefix: prefix, Times: times, Err: errUnavailable}
}

func mockAppendFault(c repository.Collection) mocks.Fault {
	return mocks.Fault{Method: "AppendToArray", Collection: c, Err: errUnavailable}
}

func mockBatchFault(c repository.Collection) mocks.Fault {
	return mocks.Fault{Method: "BatchWrite", Collection: c, Err: errUnavailable}
}
