package errs

import (
	"errors"
	"fmt"
	"io"
)

type BusErr struct {
	msg  string
	code int64
	err  error
}

// Error 输出格式：
// [错误码] 错误类型描述 ( => 包含错误详细描述 )
// 解释：(xxx) 表示可选内容
func (be *BusErr) Error() string {
	details := fmt.Sprintf("[%d] %s", be.code, be.msg)
	if be.err != nil {
		details += fmt.Sprintf(" => %s", be.err)
	}

	return details
}

func (be *BusErr) Code() int64 {
	return be.code
}

func (be *BusErr) Kind() string {
	return be.msg
}

func (be *BusErr) WithErr(err error) *BusErr {
	be.err = err
	return be
}

func (be *BusErr) Unwrap() error {
	return be.err
}

func GetCode(err error) int64 {
	var be *BusErr
	if errors.As(err, &be) {
		return be.code
	}
	return UnknownErrCode
}

// IsEOF 对端半关闭/流结束，属于预期内的终止条件，不应作为故障记录
func IsEOF(err error) bool {
	return GetCode(err) == EOFErrCode
}

// IsFatal 编程契约被破坏（错误的类型收窄、解引用空句柄），调用方不应继续执行
func IsFatal(err error) bool {
	code := GetCode(err)
	return code == InvalidClassErrCode || code == NullReferenceErrCode
}

const (
	UnknownErrCode           = 0
	InvalidParamErrCode      = 100001
	IOErrCode                = 100002
	EOFErrCode               = 100003
	ClosedChannelErrCode     = 100004
	ClosedSelectorErrCode    = 100005
	ConfigErrCode            = 100006
	ManifestErrCode          = 100007
	BundleErrCode            = 100008
	BundleStateErrCode       = 100009
	ActivatorNotFoundErrCode = 100010
	JsonUnmarshalErrCode     = 100011
	WriteFileErrCode         = 100012
	OpenFileErrCode          = 100013
	DirNotExistErrCode       = 100014
	FileNoPermissionErrCode  = 100015
	FileStatErrCode          = 100016
	MkdirErrCode             = 100017
	TaskCancelledErrCode     = 100018
	InvalidClassErrCode      = 200001
	NullReferenceErrCode     = 200002
)

func NewUnknownErr() *BusErr {
	return &BusErr{msg: "unknown error", code: UnknownErrCode}
}

func NewInvalidParamErr() *BusErr {
	return &BusErr{msg: "invalid params", code: InvalidParamErrCode}
}

func NewIOErr() *BusErr {
	return &BusErr{msg: "io failed", code: IOErrCode}
}

// NewEOFErr 包装 io.EOF，保证 errors.Is(err, io.EOF) 成立
func NewEOFErr() *BusErr {
	return &BusErr{msg: "end of stream", code: EOFErrCode, err: io.EOF}
}

func NewClosedChannelErr() *BusErr {
	return &BusErr{msg: "channel closed", code: ClosedChannelErrCode}
}

func NewClosedSelectorErr() *BusErr {
	return &BusErr{msg: "selector closed", code: ClosedSelectorErrCode}
}

func NewConfigErr() *BusErr {
	return &BusErr{msg: "load settings failed", code: ConfigErrCode}
}

func NewManifestErr() *BusErr {
	return &BusErr{msg: "invalid bundle manifest", code: ManifestErrCode}
}

func NewBundleErr() *BusErr {
	return &BusErr{msg: "bundle activator failed", code: BundleErrCode}
}

func NewBundleStateErr() *BusErr {
	return &BusErr{msg: "illegal bundle state transition", code: BundleStateErrCode}
}

func NewActivatorNotFoundErr() *BusErr {
	return &BusErr{msg: "activator not found", code: ActivatorNotFoundErrCode}
}

func NewJsonUnmarshalErr() *BusErr {
	return &BusErr{msg: "json unmarshal failed", code: JsonUnmarshalErrCode}
}

func NewWriteFileErr() *BusErr {
	return &BusErr{msg: "write file failed", code: WriteFileErrCode}
}

func NewOpenFileErr() *BusErr {
	return &BusErr{msg: "open file failed", code: OpenFileErrCode}
}

func NewDirNotExistErr() *BusErr {
	return &BusErr{msg: "directory not exist", code: DirNotExistErrCode}
}

func NewFileNoPermissionErr() *BusErr {
	return &BusErr{msg: "file no permission", code: FileNoPermissionErrCode}
}

func NewFileStatErr() *BusErr {
	return &BusErr{msg: "file stat failed", code: FileStatErrCode}
}

func NewMkdirErr() *BusErr {
	return &BusErr{msg: "mkdir failed", code: MkdirErrCode}
}

func NewTaskCancelledErr() *BusErr {
	return &BusErr{msg: "task cancelled", code: TaskCancelledErrCode}
}

func NewInvalidClassErr() *BusErr {
	return &BusErr{msg: "invalid class", code: InvalidClassErrCode}
}

func NewNullReferenceErr() *BusErr {
	return &BusErr{msg: "null reference", code: NullReferenceErrCode}
}
