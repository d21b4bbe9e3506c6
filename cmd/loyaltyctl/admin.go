package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"loyaltyhub/internal/app"
	"loyaltyhub/internal/pkg/auth"
	"loyaltyhub/internal/schema"
	accountdomain "loyaltyhub/internal/service/account/domain"
	gatedomain "loyaltyhub/internal/service/gate/domain"
	"loyaltyhub/internal/tenant"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update all tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, app.Options{}, func(ctx context.Context, c *app.Container) error {
				if err := schema.Migrate(ctx, c.DB); err != nil {
					return err
				}
				fmt.Println("schema up to date")
				return nil
			})
		},
	}
}

func orgCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "org", Short: "Manage organizations"}

	var (
		org        tenant.Organization
		host       string
		doubleDays []string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an organization",
		Example: `  loyaltyctl org create --name "Barbería El Güero" --host elguero.example.com
  loyaltyctl org create --name Demo --lock-hours 0 --lock-minutes 30 --double-days sat,sun
  loyaltyctl org create --name Libre --lock-hours 0 --lock-minutes 0   # anti-fraud lock disabled`,
		RunE: func(cmd *cobra.Command, args []string) error {
			days, err := parseWeekdays(doubleDays)
			if err != nil {
				return err
			}
			org.DoubleStampDays = days
			return withContainer(cmd, app.Options{}, func(ctx context.Context, c *app.Container) error {
				if err := c.Tenants.Create(ctx, &org, host); err != nil {
					return err
				}
				return printJSON(org)
			})
		},
	}
	f := create.Flags()
	f.StringVar(&org.Name, "name", "", "business name")
	f.StringVar(&org.Slug, "slug", "", "url slug (derived from name when empty)")
	f.StringVar(&org.Timezone, "timezone", tenant.DefaultTimezone, "IANA timezone")
	f.StringVar(&org.Currency, "currency", tenant.DefaultCurrency, "ISO currency code")
	f.StringVar(&host, "host", "", "primary domain bound to this organization")
	f.IntVar(&org.StampLockHours, "lock-hours", tenant.DefaultLockHours, "minimum hours between stamps for one customer (0h 0m disables the lock)")
	f.IntVar(&org.StampLockMinutes, "lock-minutes", 0, "additional minutes between stamps")
	f.IntVar(&org.StampsExpirationMonths, "expiration-months", 0, "open cards expire after N months (0 = never)")
	f.StringSliceVar(&doubleDays, "double-days", nil, "weekdays that award double stamps (mon..sun)")
	_ = create.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List active organizations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, app.Options{}, func(ctx context.Context, c *app.Container) error {
				orgs, err := c.Tenants.ListActive(ctx)
				if err != nil {
					return err
				}
				return printJSON(orgs)
			})
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}

var weekdayNames = map[string]time.Weekday{
	"mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday, "thu": time.Thursday,
	"fri": time.Friday, "sat": time.Saturday, "sun": time.Sunday,
}

func parseWeekdays(names []string) (tenant.Weekdays, error) {
	var w tenant.Weekdays
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if len(n) > 3 {
			n = n[:3]
		}
		d, ok := weekdayNames[n]
		if !ok {
			return 0, fmt.Errorf("unknown weekday %q", n)
		}
		w = w.With(d)
	}
	return w, nil
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage user accounts"}

	var (
		slug       string
		email      string
		role       string
		customerID uint
		phone      string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user account",
		RunE: func(cmd *cobra.Command, args []string) error {
			u := &accountdomain.User{Email: email, Phone: phone}
			switch auth.Role(role) {
			case auth.RoleSuperuser:
				u.IsSuperuser = true
			case auth.RoleOwner:
				u.IsOwner = true
			case auth.RoleStaff:
				u.IsStaffMember = true
			case auth.RoleCustomer:
				u.IsCustomer = true
				if customerID == 0 {
					return fmt.Errorf("--customer-id is required for customer accounts")
				}
				u.CustomerID = &customerID
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			return withContainer(cmd, app.Options{}, func(ctx context.Context, c *app.Container) error {
				if slug != "" {
					_, org, err := orgContext(ctx, c, slug)
					if err != nil {
						return err
					}
					u.OrganizationID = &org.ID
				}
				if err := c.Accounts.CreateUser(ctx, u); err != nil {
					return err
				}
				return printJSON(u)
			})
		},
	}
	f := create.Flags()
	f.StringVar(&slug, "org", "", "organization slug (omit for superusers)")
	f.StringVar(&email, "email", "", "login email")
	f.StringVar(&role, "role", string(auth.RoleStaff), "superuser, owner, staff or customer")
	f.UintVar(&customerID, "customer-id", 0, "linked customer profile for customer accounts")
	f.StringVar(&phone, "phone", "", "contact phone")
	_ = create.MarkFlagRequired("email")

	cmd.AddCommand(create)
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Access tokens"}
	var email string
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token for an existing account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, app.Options{}, func(ctx context.Context, c *app.Container) error {
				if c.Tokens == nil {
					return fmt.Errorf("auth.jwt_secret is not configured")
				}
				token, id, err := c.Accounts.IssueToken(ctx, email)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"token": token, "identity": id})
			})
		},
	}
	issue.Flags().StringVar(&email, "email", "", "account email")
	_ = issue.MarkFlagRequired("email")
	cmd.AddCommand(issue)
	return cmd
}

func featureCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "feature", Short: "Plan features per organization"}
	var (
		slug    string
		key     string
		enabled bool
		notes   string
	)
	set := &cobra.Command{
		Use:     "set",
		Short:   "Enable or disable a feature",
		Example: "  loyaltyctl feature set --org demo --key stamps\n  loyaltyctl feature set --org demo --key audit --enabled=false",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, app.Options{}, func(ctx context.Context, c *app.Container) error {
				_, org, err := orgContext(ctx, c, slug)
				if err != nil {
					return err
				}
				if err := c.Gate.SetFeature(ctx, org.ID, key, enabled, notes); err != nil {
					return err
				}
				fmt.Printf("%s: %s=%t\n", org.Slug, key, enabled)
				return nil
			})
		},
	}
	f := set.Flags()
	f.StringVar(&slug, "org", "", "organization slug")
	f.StringVar(&key, "key", "", "feature key, e.g. stamps, points, campaigns.auto_notifications")
	f.BoolVar(&enabled, "enabled", true, "enable the feature")
	f.StringVar(&notes, "notes", "", "free-form notes")
	_ = set.MarkFlagRequired("key")

	cmd.AddCommand(set)
	return cmd
}

func limitCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "limit", Short: "Plan usage limits per organization"}
	var (
		slug  string
		limit gatedomain.UsageLimit
		kind  string
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Configure a usage limit (-1 = unlimited)",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit.Type = gatedomain.LimitType(kind)
			return withContainer(cmd, app.Options{}, func(ctx context.Context, c *app.Container) error {
				_, org, err := orgContext(ctx, c, slug)
				if err != nil {
					return err
				}
				limit.OrganizationID = org.ID
				if err := c.Gate.SetLimit(ctx, limit); err != nil {
					return err
				}
				limits, err := c.Gate.Limits(ctx, org.ID)
				if err != nil {
					return err
				}
				return printJSON(limits)
			})
		},
	}
	f := set.Flags()
	f.StringVar(&slug, "org", "", "organization slug")
	f.StringVar(&kind, "type", "", "customers, staff, appointments_monthly, campaigns_monthly, sms_monthly or storage_mb")
	f.IntVar(&limit.Value, "value", gatedomain.Unlimited, "limit value")
	f.BoolVar(&limit.Enforce, "enforce", true, "reject creations over the limit")
	f.IntVar(&limit.WarningThreshold, "warning", gatedomain.DefaultWarningThreshold, "warning threshold in percent")
	_ = set.MarkFlagRequired("type")

	cmd.AddCommand(set)
	return cmd
}
