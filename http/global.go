package http

import "webssh/common"

var api *common.API
