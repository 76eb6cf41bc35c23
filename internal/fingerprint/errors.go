package fingerprint

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyFingerprint 指纹不含任何类，该构件无可用结构信息
var ErrEmptyFingerprint = errors.New("fingerprint contains no classes")

// MalformedPathError 类的包路径含空段，无法插入包树
type MalformedPathError struct {
	Class string
	Path  []string
}

func (e *MalformedPathError) Error() string {
	return fmt.Sprintf("malformed package path %q for class %q: empty segment", strings.Join(e.Path, "."), e.Class)
}
