package util

import (
	libconstants "github.com/filswan/go-swan-lib/constants"
)

type BasicResponse struct {
	Status  string      `json:"status"`
	Code    int         `json:"code"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

func CreateSuccessResponse(_data interface{}) BasicResponse {
	return BasicResponse{
		Status: libconstants.SWAN_API_STATUS_SUCCESS,
		Data:   _data,
		Code:   SuccessCode,
	}
}

func CreateErrorResponse(code int, errMsg ...string) BasicResponse {
	var msg string
	if len(errMsg) == 0 {
		msg = codeMsg[code]
	} else {
		msg = errMsg[0]
	}
	return BasicResponse{
		Status:  libconstants.SWAN_API_STATUS_FAIL,
		Code:    code,
		Message: msg,
	}
}

const (
	SuccessCode = 200
	JsonError   = 400
	NotFound    = 404
	ServerError = 500

	FlowParamError  = 9001
	FlowSubmitError = 9002
	FlowRunError    = 9003
	WalletError     = 9004
)

var codeMsg = map[int]string{
	JsonError:   "An error occurred while converting to json",
	NotFound:    "The requested resource was not found",
	ServerError: "An internal error occurred",

	FlowParamError:  "The flow request parameters are invalid",
	FlowSubmitError: "An error occurred while submitting the flow",
	FlowRunError:    "An error occurred while executing the flow",
	WalletError:     "An error occurred while accessing the wallet",
}
