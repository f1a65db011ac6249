package adapter

import (
	"encoding/json"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/protocard/protosync/models"
)

// decodeEnvelope parses the authority's response envelope and classifies
// anything that is not a well-formed success. The envelope's error code wins
// over the HTTP status when both are present.
func decodeEnvelope(resp *resty.Response) (models.Response, *Failure) {
	var envelope models.Response
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return models.Response{}, &Failure{
			Kind:    KindProtocol,
			Message: "undecodable response envelope",
			cause:   err,
		}
	}

	if envelope.Success && !resp.IsError() {
		if envelope.Result == nil && envelope.Type != "protocard.deleted" {
			return models.Response{}, &Failure{Kind: KindProtocol, Message: "success envelope without result"}
		}
		return envelope, nil
	}

	failure := &Failure{Message: http.StatusText(resp.StatusCode())}
	if envelope.Error != nil {
		failure.Code = envelope.Error.Code
		failure.Message = envelope.Error.Message
	}

	switch {
	case failure.Code == "validation":
		failure.Kind = KindValidation
	case failure.Code == "not_found":
		failure.Kind = KindNotFound
	case resp.StatusCode() == http.StatusBadRequest,
		resp.StatusCode() == http.StatusUnprocessableEntity:
		failure.Kind = KindValidation
	case resp.StatusCode() == http.StatusNotFound:
		failure.Kind = KindNotFound
	case resp.StatusCode() >= http.StatusInternalServerError:
		failure.Kind = KindTransient
	default:
		failure.Kind = KindProtocol
	}

	return models.Response{}, failure
}
