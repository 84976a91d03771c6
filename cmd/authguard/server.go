package main

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/MrEthical07/authguard"
	"github.com/MrEthical07/authguard/audit"
	"github.com/MrEthical07/authguard/internal/secure"
	"github.com/MrEthical07/authguard/metrics/export/prometheus"
	"github.com/MrEthical07/authguard/session"
)

const (
	ctxSession = "authguard.session"
	ctxToken   = "authguard.token"
)

// server adapts Engine operations to JSON over HTTP.
type server struct {
	engine     *authguard.Engine
	adminToken string
}

func newServer(engine *authguard.Engine, adminToken string) *echo.Echo {
	s := &server{engine: engine, adminToken: adminToken}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(requestContext)

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(prometheus.New(engine).Handler()))

	pub := e.Group("/v1/auth")
	pub.POST("/register", s.register)
	pub.POST("/verify-email", s.verifyEmail)
	pub.POST("/login", s.login)
	pub.POST("/two-factor", s.completeTwoFactor)
	pub.POST("/password/forgot", s.forgotPassword)
	pub.POST("/password/reset", s.resetPassword)

	e.GET("/v1/oauth/:provider/start", s.oauthStart)
	e.GET("/v1/oauth/:provider/callback", s.oauthCallback)

	me := e.Group("/v1", s.requireSession)
	me.GET("/me", s.me)
	me.POST("/logout", s.logout)
	me.POST("/logout-all", s.logoutAll)
	me.POST("/password", s.changePassword)
	me.POST("/verify-email/resend", s.resendVerification)
	me.GET("/sessions", s.listSessions)
	me.DELETE("/sessions/:id", s.revokeSession)
	me.GET("/two-factor", s.twoFactorStatus)
	me.POST("/two-factor/setup", s.setupTwoFactor)
	me.POST("/two-factor/confirm", s.confirmTwoFactor)
	me.POST("/two-factor/disable", s.disableTwoFactor)
	me.POST("/two-factor/backup-codes", s.regenerateBackupCodes)
	me.GET("/oauth", s.linkedProviders)
	me.DELETE("/oauth/:provider", s.unlinkProvider)

	admin := e.Group("/v1/admin", s.requireAdmin)
	admin.GET("/audit", s.queryAudit)
	admin.GET("/audit/integrity", s.auditIntegrity)
	admin.POST("/audit/cleanup", s.auditCleanup)

	return e
}

// requestContext copies caller metadata into the request context so every
// audit entry written while serving it carries them.
func requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		id := req.Header.Get(echo.HeaderXRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Response().Header().Set(echo.HeaderXRequestID, id)

		ctx := authguard.WithClientIP(req.Context(), c.RealIP())
		ctx = authguard.WithUserAgent(ctx, req.UserAgent())
		ctx = authguard.WithRequestID(ctx, id)
		c.SetRequest(req.WithContext(ctx))
		return next(c)
	}
}

func bearerToken(c echo.Context) string {
	h := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func (s *server) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c)
		res := s.engine.VerifySession(c.Request().Context(), token)
		if !res.OK() {
			return writeFailure(c, res.Failure)
		}
		c.Set(ctxSession, res.Value)
		c.Set(ctxToken, token)
		return next(c)
	}
}

func (s *server) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		got := c.Request().Header.Get("X-Admin-Token")
		if s.adminToken == "" || !secure.Equal([]byte(got), []byte(s.adminToken)) {
			return c.JSON(http.StatusForbidden, echo.Map{"kind": "FORBIDDEN"})
		}
		return next(c)
	}
}

func current(c echo.Context) (session.Context, string) {
	sc, _ := c.Get(ctxSession).(session.Context)
	token, _ := c.Get(ctxToken).(string)
	return sc, token
}

var statusByKind = map[authguard.Kind]int{
	authguard.KindInvalidCredentials:    http.StatusUnauthorized,
	authguard.KindAccountInactive:       http.StatusForbidden,
	authguard.KindEmailNotVerified:      http.StatusForbidden,
	authguard.KindTwoFactorRequired:     http.StatusUnauthorized,
	authguard.KindInvalidTwoFactorCode:  http.StatusUnauthorized,
	authguard.KindInvalidOrExpiredToken: http.StatusBadRequest,
	authguard.KindRateLimited:           http.StatusTooManyRequests,
	authguard.KindWeakCredential:        http.StatusUnprocessableEntity,
	authguard.KindSessionInvalid:        http.StatusUnauthorized,
	authguard.KindIntegrityViolation:    http.StatusInternalServerError,
	authguard.KindStorageUnavailable:    http.StatusServiceUnavailable,
	authguard.KindInvalidRequest:        http.StatusBadRequest,
	authguard.KindConflict:              http.StatusConflict,
}

func writeFailure(c echo.Context, f *authguard.Failure) error {
	status, ok := statusByKind[f.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	body := echo.Map{"kind": f.Kind, "message": f.Message}
	if f.RetryAfter > 0 {
		secs := int((f.RetryAfter + time.Second - 1) / time.Second)
		c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
		body["retryAfterSeconds"] = secs
	}
	return c.JSON(status, body)
}

// reply writes res.Value through view, or the failure.
func reply[T any](c echo.Context, status int, res authguard.Result[T], view func(T) any) error {
	if !res.OK() {
		return writeFailure(c, res.Failure)
	}
	if view == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(status, view(res.Value))
}

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return writeFailure(c, &authguard.Failure{Kind: authguard.KindInvalidRequest, Message: "invalid body"})
	}
	return nil
}

type sessionView struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	IPAddress string    `json:"ipAddress,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
}

func viewSession(sc session.Context) sessionView {
	return sessionView{sc.SessionID, sc.CreatedAt, sc.ExpiresAt, sc.IPAddress, sc.UserAgent}
}

type loginView struct {
	State            authguard.LoginState `json:"state"`
	UserID           string               `json:"userId"`
	Token            string               `json:"token,omitempty"`
	Session          *sessionView         `json:"session,omitempty"`
	PendingToken     string               `json:"pendingToken,omitempty"`
	PendingExpiresAt *time.Time           `json:"pendingExpiresAt,omitempty"`
	NewUser          bool                 `json:"newUser,omitempty"`
}

func viewLogin(o authguard.LoginOutcome) any {
	v := loginView{State: o.State, UserID: o.UserID, NewUser: o.NewUser}
	if o.Session != nil {
		sv := viewSession(o.Session.Session)
		v.Token, v.Session = o.Session.Token, &sv
	}
	if o.PendingToken != "" {
		at := o.PendingExpiresAt
		v.PendingToken, v.PendingExpiresAt = o.PendingToken, &at
	}
	return v
}

func (s *server) register(c echo.Context) error {
	var req struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	res := s.engine.Register(c.Request().Context(), authguard.RegisterRequest{
		Email: req.Email, Password: req.Password, DisplayName: req.DisplayName,
	})
	return reply(c, http.StatusCreated, res, func(o authguard.RegisterOutcome) any {
		return echo.Map{"userId": o.UserID, "verificationRequired": o.VerificationRequired}
	})
}

func (s *server) verifyEmail(c echo.Context) error {
	var req struct {
		Token string `json:"token"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	res := s.engine.VerifyEmail(c.Request().Context(), req.Token)
	return reply(c, http.StatusOK, res, func(uid string) any { return echo.Map{"userId": uid} })
}

func (s *server) login(c echo.Context) error {
	var req struct {
		Email      string `json:"email"`
		Password   string `json:"password"`
		RememberMe bool   `json:"rememberMe"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	res := s.engine.Login(c.Request().Context(), authguard.LoginRequest{
		Email: req.Email, Password: req.Password, RememberMe: req.RememberMe,
	})
	return reply(c, http.StatusOK, res, viewLogin)
}

func (s *server) completeTwoFactor(c echo.Context) error {
	var req struct {
		PendingToken string `json:"pendingToken"`
		Code         string `json:"code"`
		RememberMe   bool   `json:"rememberMe"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	res := s.engine.CompleteTwoFactor(c.Request().Context(), authguard.CompleteTwoFactorRequest{
		PendingToken: req.PendingToken, Code: req.Code, RememberMe: req.RememberMe,
	})
	return reply(c, http.StatusOK, res, viewLogin)
}

func (s *server) forgotPassword(c echo.Context) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	res := s.engine.RequestPasswordReset(c.Request().Context(), req.Email)
	if !res.OK() {
		return writeFailure(c, res.Failure)
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *server) resetPassword(c echo.Context) error {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	res := s.engine.ResetPassword(c.Request().Context(), authguard.ResetPasswordRequest{
		Token: req.Token, NewPassword: req.NewPassword,
	})
	return reply[struct{}](c, http.StatusNoContent, res, nil)
}

func (s *server) oauthStart(c echo.Context) error {
	res := s.engine.BeginOAuth(c.Request().Context(), c.Param("provider"), bearerToken(c), c.QueryParam("redirect"))
	if !res.OK() {
		return writeFailure(c, res.Failure)
	}
	return c.Redirect(http.StatusFound, res.Value.URL)
}

func (s *server) oauthCallback(c echo.Context) error {
	res := s.engine.CompleteOAuth(c.Request().Context(), c.Param("provider"), c.QueryParam("state"), c.QueryParam("code"))
	return reply(c, http.StatusOK, res, viewLogin)
}

func (s *server) me(c echo.Context) error {
	sc, _ := current(c)
	return c.JSON(http.StatusOK, echo.Map{"userId": sc.UserID, "session": viewSession(sc), "refreshed": sc.Refreshed})
}

func (s *server) logout(c echo.Context) error {
	_, token := current(c)
	return reply[struct{}](c, http.StatusNoContent, s.engine.Logout(c.Request().Context(), token), nil)
}

func (s *server) logoutAll(c echo.Context) error {
	_, token := current(c)
	res := s.engine.LogoutAll(c.Request().Context(), token)
	return reply(c, http.StatusOK, res, func(n int) any { return echo.Map{"revoked": n} })
}

func (s *server) changePassword(c echo.Context) error {
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	_, token := current(c)
	res := s.engine.ChangePassword(c.Request().Context(), authguard.ChangePasswordRequest{
		SessionToken: token, CurrentPassword: req.CurrentPassword, NewPassword: req.NewPassword,
	})
	return reply[struct{}](c, http.StatusNoContent, res, nil)
}

func (s *server) resendVerification(c echo.Context) error {
	_, token := current(c)
	return reply[struct{}](c, http.StatusNoContent, s.engine.ResendVerification(c.Request().Context(), token), nil)
}

func (s *server) listSessions(c echo.Context) error {
	sc, _ := current(c)
	res := s.engine.ListSessions(c.Request().Context(), sc.UserID)
	return reply(c, http.StatusOK, res, func(list []session.Context) any {
		out := make([]sessionView, 0, len(list))
		for _, item := range list {
			out = append(out, viewSession(item))
		}
		return echo.Map{"sessions": out}
	})
}

func (s *server) revokeSession(c echo.Context) error {
	sc, _ := current(c)
	res := s.engine.RevokeSession(c.Request().Context(), sc.UserID, c.Param("id"))
	return reply[struct{}](c, http.StatusNoContent, res, nil)
}

func (s *server) twoFactorStatus(c echo.Context) error {
	_, token := current(c)
	res := s.engine.TwoFactorStatus(c.Request().Context(), token)
	return reply(c, http.StatusOK, res, func(st authguard.TwoFactorState) any {
		return echo.Map{"status": st.Status, "remainingBackupCodes": st.RemainingBackupCodes}
	})
}

func (s *server) setupTwoFactor(c echo.Context) error {
	_, token := current(c)
	res := s.engine.SetupTwoFactor(c.Request().Context(), token)
	return reply(c, http.StatusOK, res, func(st authguard.TwoFactorSetup) any {
		return echo.Map{"secret": st.Secret, "provisioningUri": st.ProvisioningURI, "backupCodes": st.BackupCodes}
	})
}

type codeBody struct {
	Code string `json:"code"`
}

func (s *server) confirmTwoFactor(c echo.Context) error {
	var req codeBody
	if err := bind(c, &req); err != nil {
		return err
	}
	_, token := current(c)
	return reply[struct{}](c, http.StatusNoContent, s.engine.ConfirmTwoFactor(c.Request().Context(), token, req.Code), nil)
}

func (s *server) disableTwoFactor(c echo.Context) error {
	var req struct {
		Password string `json:"password"`
		Code     string `json:"code"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	_, token := current(c)
	res := s.engine.DisableTwoFactor(c.Request().Context(), authguard.DisableTwoFactorRequest{
		SessionToken: token, Password: req.Password, Code: req.Code,
	})
	return reply[struct{}](c, http.StatusNoContent, res, nil)
}

func (s *server) regenerateBackupCodes(c echo.Context) error {
	var req codeBody
	if err := bind(c, &req); err != nil {
		return err
	}
	_, token := current(c)
	res := s.engine.RegenerateBackupCodes(c.Request().Context(), token, req.Code)
	return reply(c, http.StatusOK, res, func(codes []string) any { return echo.Map{"backupCodes": codes} })
}

func (s *server) linkedProviders(c echo.Context) error {
	_, token := current(c)
	res := s.engine.LinkedProviders(c.Request().Context(), token)
	return reply(c, http.StatusOK, res, func(list []authguard.LinkedProvider) any {
		out := make([]echo.Map, 0, len(list))
		for _, l := range list {
			out = append(out, echo.Map{"provider": l.Provider, "email": l.Email, "createdAt": l.CreatedAt})
		}
		return echo.Map{"providers": out}
	})
}

func (s *server) unlinkProvider(c echo.Context) error {
	_, token := current(c)
	return reply[struct{}](c, http.StatusNoContent, s.engine.UnlinkOAuth(c.Request().Context(), token, c.Param("provider")), nil)
}

// auditFilter reads the query string. Malformed numbers become -1 so the
// engine rejects them as an invalid request.
func auditFilter(c echo.Context) audit.Filter {
	f := audit.Filter{
		UserID:    c.QueryParam("userId"),
		EventType: audit.EventType(c.QueryParam("eventType")),
		Action:    audit.Action(c.QueryParam("action")),
		Severity:  audit.Severity(c.QueryParam("severity")),
		IPAddress: c.QueryParam("ip"),
	}
	atoi := func(key string) int {
		v := c.QueryParam(key)
		if v == "" {
			return 0
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return -1
		}
		return n
	}
	f.Limit, f.Offset = atoi("limit"), atoi("offset")
	if v := c.QueryParam("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			f.Success = &b
		}
	}
	return f
}

func (s *server) queryAudit(c echo.Context) error {
	requestedBy := c.Request().Header.Get("X-Admin-User")
	if requestedBy == "" {
		requestedBy = "admin"
	}
	res := s.engine.QueryAuditLog(c.Request().Context(), requestedBy, auditFilter(c))
	return reply(c, http.StatusOK, res, func(p audit.Page) any { return p })
}

func (s *server) auditIntegrity(c echo.Context) error {
	res := s.engine.CheckAuditIntegrity(c.Request().Context())
	if !res.OK() {
		return c.JSON(http.StatusConflict, echo.Map{"kind": res.Failure.Kind, "report": res.Value})
	}
	return c.JSON(http.StatusOK, res.Value)
}

func (s *server) auditCleanup(c echo.Context) error {
	dry, _ := strconv.ParseBool(c.QueryParam("dryRun"))
	res := s.engine.CleanupAuditLog(c.Request().Context(), dry)
	return reply(c, http.StatusOK, res, func(r audit.CleanupReport) any { return r })
}

// shutdown stops e within d.
func shutdown(e *echo.Echo, d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return e.Shutdown(ctx)
}
