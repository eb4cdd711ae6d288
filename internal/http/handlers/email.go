package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"posterstudio/internal/domain"
)

type emailSendRequest struct {
	Recipient string `json:"recipient"`
}

func (a *App) SendEmail(w http.ResponseWriter, r *http.Request) {
	var req emailSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid email payload")
		return
	}
	result, ok := a.Orchestrator.Result(r.Context())
	if !ok {
		a.error(w, http.StatusConflict, "no_result", "请先生成海报")
		return
	}
	snap := a.Model.Snapshot()
	if err := a.Mailer.Send(r.Context(), req.Recipient, &snap, result); err != nil {
		switch {
		case errors.Is(err, domain.ErrConfigMissing):
			a.error(w, http.StatusServiceUnavailable, "config_missing", "尚未配置邮件服务地址")
		case errors.Is(err, domain.ErrRequestFailed):
			a.error(w, http.StatusBadGateway, "send_failed", "邮件发送失败，请稍后重试")
		default:
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		}
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "sent"})
}
