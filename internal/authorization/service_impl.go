package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/simstore/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	RoleAdmin   = "admin"
	RoleSupport = "support"
)

const (
	ObjectOrder     = "order"
	ObjectCustomer  = "customer"
	ObjectSettings  = "settings"
	ObjectProfile   = "profile"
	ObjectAuditLog  = "audit_log"
	ObjectPlan      = "plan"
	ObjectAffiliate = "affiliate"
)

const (
	ActionOrderView          = "order.view"
	ActionOrderRetry         = "order.retry"
	ActionOrderResendReceipt = "order.resend_receipt"
	ActionOrderRefund        = "order.refund"
	ActionOrderAdjust        = "order.adjust"

	ActionCustomerTopUp = "customer.topup"

	ActionSettingsView   = "settings.view"
	ActionSettingsUpdate = "settings.update"

	ActionProfileSuspend   = "profile.suspend"
	ActionProfileUnsuspend = "profile.unsuspend"
	ActionProfileRevoke    = "profile.revoke"

	ActionAuditLogView = "audit_log.view"

	ActionPlanView   = "plan.view"
	ActionPlanUpdate = "plan.update"

	ActionCommissionView = "affiliate.commissions.view"
)

// Principal is an authenticated operator.
type Principal struct {
	Name string
	Role string
}

// Subject is the casbin subject for the principal.
func (p Principal) Subject() string {
	return "key:" + p.Name
}

type Service interface {
	// Authenticate resolves a "<name>.<secret>" token to its principal.
	Authenticate(ctx context.Context, token string) (*Principal, error)
	Authorize(ctx context.Context, principal Principal, object, action string) error
}

type Params struct {
	fx.In

	Config   config.Config
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	keys     map[string]APIKey
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) (Service, error) {
	keys, err := ParseAPIKeys(p.Config.Admin.APIKeys)
	if err != nil {
		return nil, err
	}
	return newService(p.Log, p.Enforcer, keys)
}

func newService(log *zap.Logger, enforcer *casbin.SyncedEnforcer, keys []APIKey) (*ServiceImpl, error) {
	s := &ServiceImpl{
		log:      log.Named("authorization.service"),
		enforcer: enforcer,
		keys:     make(map[string]APIKey, len(keys)),
	}
	for _, key := range keys {
		s.keys[key.Name] = key
		if err := s.ensureGrouping(Principal{Name: key.Name, Role: key.Role}); err != nil {
			return nil, err
		}
	}
	if len(keys) == 0 {
		s.log.Warn("no admin api keys configured; admin routes will reject every request")
	}
	return s, nil
}

func (s *ServiceImpl) Authenticate(_ context.Context, token string) (*Principal, error) {
	name, secret, ok := SplitToken(token)
	if !ok {
		return nil, ErrUnauthorized
	}
	key, ok := s.keys[name]
	if !ok || !VerifySecret(secret, key.Hash) {
		return nil, ErrUnauthorized
	}
	return &Principal{Name: key.Name, Role: key.Role}, nil
}

func (s *ServiceImpl) Authorize(ctx context.Context, principal Principal, object, action string) error {
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(principal.Subject(), object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Info("authorization.denied",
			zap.String("actor", principal.Name),
			zap.String("role", principal.Role),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

// ensureGrouping binds the key to exactly its configured role, dropping any
// role persisted by an earlier configuration.
func (s *ServiceImpl) ensureGrouping(principal Principal) error {
	subject := principal.Subject()
	roleName := roleSubject(principal.Role)

	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(rule[0], rule[1]); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func roleSubject(role string) string {
	return fmt.Sprintf("role:%s", role)
}

func validRole(role string) bool {
	return role == RoleAdmin || role == RoleSupport
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	support := [][]string{
		{ObjectOrder, ActionOrderView},
		{ObjectOrder, ActionOrderRetry},
		{ObjectOrder, ActionOrderResendReceipt},
		{ObjectSettings, ActionSettingsView},
		{ObjectProfile, ActionProfileSuspend},
		{ObjectProfile, ActionProfileUnsuspend},
		{ObjectAuditLog, ActionAuditLogView},
		{ObjectPlan, ActionPlanView},
		{ObjectAffiliate, ActionCommissionView},
	}
	adminOnly := [][]string{
		{ObjectOrder, ActionOrderRefund},
		{ObjectOrder, ActionOrderAdjust},
		{ObjectCustomer, ActionCustomerTopUp},
		{ObjectSettings, ActionSettingsUpdate},
		{ObjectProfile, ActionProfileRevoke},
		{ObjectPlan, ActionPlanUpdate},
	}

	var policies [][]string
	for _, p := range support {
		policies = append(policies, []string{roleSubject(RoleSupport), p[0], p[1]})
		policies = append(policies, []string{roleSubject(RoleAdmin), p[0], p[1]})
	}
	for _, p := range adminOnly {
		policies = append(policies, []string{roleSubject(RoleAdmin), p[0], p[1]})
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
