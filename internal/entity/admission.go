package entity

import "net/http"

type AdmissionCode string

const (
	AdmissionSuccess          AdmissionCode = "success"
	AdmissionUnauthorized     AdmissionCode = "unauthorized"
	AdmissionForbidden        AdmissionCode = "forbidden"
	AdmissionConflict         AdmissionCode = "conflict"
	AdmissionCapacityExceeded AdmissionCode = "capacity_exceeded"
)

func (c AdmissionCode) HTTPStatus() int {
	switch c {
	case AdmissionSuccess:
		return http.StatusSwitchingProtocols
	case AdmissionForbidden:
		return http.StatusForbidden
	case AdmissionConflict:
		return http.StatusConflict
	case AdmissionCapacityExceeded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}

func (c AdmissionCode) Message() string {
	switch c {
	case AdmissionSuccess:
		return "admitted"
	case AdmissionForbidden:
		return "admin permission required"
	case AdmissionConflict:
		return "session already active"
	case AdmissionCapacityExceeded:
		return "server full"
	default:
		return "unauthorized"
	}
}
