// Package alerts implements the rule evaluation engine and webhook delivery
// for SPC alerting. Rules are evaluated against every recorded data point;
// webhooks are delivered to Teams, Slack, or generic HTTP targets.
package alerts
