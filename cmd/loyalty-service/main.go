// cmd/loyalty-service/main.go
package main

import (
	"context"
	"flag"

	"github.com/go-chi/chi/v5"

	"loyaltyhub/internal/app"
	"loyaltyhub/internal/pkg/auth"
	"loyaltyhub/internal/pkg/bootstrap"
	"loyaltyhub/internal/pkg/logger"
	auditif "loyaltyhub/internal/service/audit/interfaces"
	campaignif "loyaltyhub/internal/service/campaign/interfaces"
	customerif "loyaltyhub/internal/service/customer/interfaces"
	gatedomain "loyaltyhub/internal/service/gate/domain"
	gateif "loyaltyhub/internal/service/gate/interfaces"
	loyaltyif "loyaltyhub/internal/service/loyalty/interfaces"
	notificationif "loyaltyhub/internal/service/notification/interfaces"
	reportif "loyaltyhub/internal/service/report/interfaces"
	stampsif "loyaltyhub/internal/service/stamps/interfaces"
	"loyaltyhub/internal/tenant"
)

const serviceName = "loyalty-service"

// main 组装根：加载配置、组装依赖、注册路由，然后交给 bootstrap 启动
func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := bootstrap.Init(*configPath)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(serviceName, cfg.App.LogLevel, cfg.App.IsDevelopment())

	c, err := app.Build(context.Background(), cfg, serviceName, app.Options{Redis: true, Live: true})
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to build services")
	}
	if c.Tokens == nil {
		logger.L().Fatal().Msg("auth.jwt_secret is required")
	}

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.App.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			registerRoutes(appCtx.Router, c)
		},
		Closers: c.Closers(),
	})
}

func registerRoutes(r chi.Router, c *app.Container) {
	stamps := stampsif.NewStampHandler(c.Stamps, c.Hub)
	customers := customerif.NewCustomerHandler(c.Customers)
	loyalty := loyaltyif.NewLoyaltyHandler(c.Loyalty)
	campaigns := campaignif.NewCampaignHandler(c.Campaigns)
	reports := reportif.NewReportHandler(c.Reports)
	notifications := notificationif.NewConfigHandler(c.Dispatcher)
	audit := auditif.NewAuditHandler(c.Audit)
	plan := gateif.NewGateHandler(c.Gate)

	r.Route("/api", func(api chi.Router) {
		api.Use(auditif.ClientIP, auth.Authenticate(c.Tokens), c.Resolver.Middleware, tenant.RequireTenant)

		api.Group(func(staff chi.Router) {
			staff.Use(auth.RequireStaff)
			gated(staff, c, gatedomain.FeatureStamps, stamps.RegisterStaffRoutes)
			gated(staff, c, gatedomain.FeatureCustomers, customers.RegisterRoutes)
			gated(staff, c, gatedomain.FeaturePoints, loyalty.RegisterPointRoutes)
			gated(staff, c, gatedomain.FeatureRewards, loyalty.RegisterRewardRoutes)
			gated(staff, c, gatedomain.FeatureCampaigns, campaigns.RegisterRoutes)
			gated(staff, c, gatedomain.FeatureReports, reports.RegisterRoutes)
			gated(staff, c, gatedomain.FeatureCustomersExport, reports.RegisterExportRoutes)
		})

		api.Group(func(owner chi.Router) {
			owner.Use(auth.RequireOwner)
			plan.RegisterRoutes(owner)
			gated(owner, c, gatedomain.FeatureAutoNotifications, notifications.RegisterRoutes)
			gated(owner, c, gatedomain.FeatureAudit, audit.RegisterRoutes)
		})

		api.Group(func(me chi.Router) {
			me.Use(auth.RequireCustomer)
			stamps.RegisterCustomerRoutes(me)
		})
	})

	// 扫码页：域名绑定优先，否则用路径里的 slug
	r.Route("/public/{slug}", func(pub chi.Router) {
		pub.Use(c.Resolver.Middleware, c.Resolver.FromSlugParam("slug"))
		stamps.RegisterPublicRoutes(pub)
	})
}

// gated 路由组要求租户开通对应功能
func gated(parent chi.Router, c *app.Container, key string, register func(chi.Router)) {
	parent.Group(func(r chi.Router) {
		r.Use(gateif.RequireFeature(c.Gate, key))
		register(r)
	})
}
