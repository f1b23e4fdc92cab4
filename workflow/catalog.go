package workflow

import (
	"time"

	"github.com/jobflow/orchestrator/types"
)

// Catalog returns the fixed workflow definitions shipped with the
// orchestrator. Definitions are static; they are registered once at process
// start and never authored at runtime.
func Catalog() []*Definition {
	return []*Definition{
		jobDiscoveryDefinition(),
		applicationDefinition(),
		interviewPrepDefinition(),
		analyticsOptimizationDefinition(),
	}
}

// RegisterCatalog registers every fixed workflow into the registry.
func RegisterCatalog(r *Registry) error {
	for _, def := range Catalog() {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func jobDiscoveryDefinition() *Definition {
	return &Definition{
		Type:        TypeJobDiscovery,
		Name:        "Job Discovery",
		Description: "Discover, vet, and match open positions for a user",
		OnError:     OnErrorAbort,
		MaxDuration: 5 * time.Minute,
		Steps: []Step{
			{
				ID:     "compliance_check",
				Agent:  types.AgentCompliance,
				Action: "check_compliance",
			},
			{
				ID:        "discover_jobs",
				Agent:     types.AgentJobDiscovery,
				Action:    "discover_jobs",
				DependsOn: []string{"compliance_check"},
			},
			{
				ID:        "fraud_check",
				Agent:     types.AgentFraudDetect,
				Action:    "check_jobs",
				DependsOn: []string{"discover_jobs"},
			},
			{
				ID:        "match_jobs",
				Agent:     types.AgentJobMatch,
				Action:    "match_jobs",
				DependsOn: []string{"fraud_check"},
			},
			{
				ID:        "culture_analysis",
				Agent:     types.AgentCulture,
				Action:    "analyze_culture",
				DependsOn: []string{"match_jobs"},
				Optional:  true,
			},
			{
				ID:        "send_notification",
				Agent:     types.AgentNotification,
				Action:    "send_notification",
				DependsOn: []string{"match_jobs"},
			},
		},
	}
}

func applicationDefinition() *Definition {
	return &Definition{
		Type:        TypeApplication,
		Name:        "Application Submission",
		Description: "Tailor materials and submit one application end to end",
		OnError:     OnErrorAbort,
		MaxDuration: 10 * time.Minute,
		Steps: []Step{
			{
				ID:     "compliance_check",
				Agent:  types.AgentCompliance,
				Action: "check_compliance",
			},
			{
				ID:        "optimize_timing",
				Agent:     types.AgentTiming,
				Action:    "optimize_timing",
				DependsOn: []string{"compliance_check"},
			},
			{
				ID:        "tailor_resume",
				Agent:     types.AgentResume,
				Action:    "tailor_resume",
				DependsOn: []string{"compliance_check"},
			},
			{
				ID:        "generate_cover_letter",
				Agent:     types.AgentCoverLetter,
				Action:    "generate_letter",
				DependsOn: []string{"optimize_timing", "tailor_resume"},
			},
			{
				ID:        "submit_application",
				Agent:     types.AgentApplication,
				Action:    "submit_application",
				DependsOn: []string{"generate_cover_letter"},
			},
			{
				ID:        "track_analytics",
				Agent:     types.AgentAnalytics,
				Action:    "track_application",
				DependsOn: []string{"submit_application"},
			},
			{
				ID:        "schedule_follow_up",
				Agent:     types.AgentFollowUp,
				Action:    "schedule_follow_up",
				DependsOn: []string{"submit_application"},
			},
			{
				ID:        "send_notification",
				Agent:     types.AgentNotification,
				Action:    "send_notification",
				DependsOn: []string{"submit_application"},
			},
		},
	}
}

func interviewPrepDefinition() *Definition {
	return &Definition{
		Type:        TypeInterviewPrep,
		Name:        "Interview Preparation",
		Description: "Research the company and assemble an interview prep package",
		OnError:     OnErrorContinue,
		MaxDuration: 10 * time.Minute,
		Steps: []Step{
			{
				ID:     "research_company",
				Agent:  types.AgentResearch,
				Action: "research_company",
			},
			{
				ID:     "culture_analysis",
				Agent:  types.AgentCulture,
				Action: "analyze_culture",
			},
			{
				ID:        "generate_questions",
				Agent:     types.AgentInterview,
				Action:    "generate_questions",
				DependsOn: []string{"research_company", "culture_analysis"},
			},
			{
				ID:        "salary_research",
				Agent:     types.AgentSalary,
				Action:    "research_salary",
				DependsOn: []string{"generate_questions"},
				Optional:  true,
			},
			{
				ID:        "network_analysis",
				Agent:     types.AgentNetworking,
				Action:    "analyze_network",
				DependsOn: []string{"generate_questions"},
				Optional:  true,
			},
			{
				ID:        "simulate_interview",
				Agent:     types.AgentInterview,
				Action:    "simulate_interview",
				DependsOn: []string{"generate_questions"},
				Optional:  true,
			},
			{
				ID:        "send_package",
				Agent:     types.AgentNotification,
				Action:    "send_notification",
				DependsOn: []string{"generate_questions", "salary_research", "network_analysis", "simulate_interview"},
			},
		},
	}
}

func analyticsOptimizationDefinition() *Definition {
	return &Definition{
		Type:        TypeAnalyticsOptimization,
		Name:        "Analytics Optimization",
		Description: "Analyze application history and surface improvement levers",
		OnError:     OnErrorContinue,
		MaxDuration: 5 * time.Minute,
		Steps: []Step{
			{
				ID:     "get_metrics",
				Agent:  types.AgentAnalytics,
				Action: "get_metrics",
			},
			{
				ID:        "rejection_analysis",
				Agent:     types.AgentAnalytics,
				Action:    "analyze_rejection",
				DependsOn: []string{"get_metrics"},
			},
			{
				ID:        "skill_gap",
				Agent:     types.AgentAnalytics,
				Action:    "skill_gap",
				DependsOn: []string{"rejection_analysis"},
			},
			{
				ID:     "resume_analysis",
				Agent:  types.AgentResume,
				Action: "analyze_resume",
			},
			{
				ID:     "competitive_analysis",
				Agent:  types.AgentCompetitive,
				Action: "analyze_competition",
			},
			{
				ID:       "brand_audit",
				Agent:    types.AgentBrand,
				Action:   "audit_brand",
				Optional: true,
			},
		},
	}
}
