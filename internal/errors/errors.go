package errors

import "sync"

var (
	defaultHandler *ErrorHandler
	once           sync.Once
)

func GetDefaultHandler() (*ErrorHandler, error) {
	var err error
	once.Do(func() {
		defaultHandler, err = NewErrorHandler()
	})
	return defaultHandler, err
}

// HandleError reports err through the default handler. Fatal errors that
// cannot be logged are still printed to stderr by the caller.
func HandleError(err error) bool {
	handler, handlerErr := GetDefaultHandler()
	if handlerErr != nil {
		return false
	}
	handler.Handle(err)
	return true
}

// resetDefaultHandler resets the singleton for testing purposes
func resetDefaultHandler() {
	defaultHandler = nil
	once = sync.Once{}
}
