package diagnostics

import (
	"fmt"
	"sort"

	"codeberg.org/mutker/sensorctl/internal/executor"
	"codeberg.org/mutker/sensorctl/internal/report"
)

func fixed(msg string) func(string) string {
	return func(string) string { return msg }
}

func detailed(format string) func(string) string {
	return func(detail string) string { return fmt.Sprintf(format, detail) }
}

var probeAdvice = map[string]func(detail string) string{
	ProbeName(DomainNetwork, TestPing):       fixed("Network connectivity issues detected. Check network configuration and cables."),
	ProbeName(DomainNetwork, TestDNS):        fixed("DNS resolution issues detected. Check DNS server configuration."),
	ProbeName(DomainNetwork, TestPorts):      fixed("Port scan could not complete. Check firewall rules toward the target host."),
	ProbeName(DomainNetwork, TestInterfaces): fixed("No active network interface. Check the link and interface configuration."),
	ProbeName(DomainSystem, TestResources):   detailed("High resource usage detected (%s). Consider optimizing running processes."),
	ProbeName(DomainSystem, TestDisk):        detailed("Disk space is running low (%s). Free up space or expand storage."),
	ProbeName(DomainSystem, TestTemperature): detailed("Hardware is overheating (%s). Check cooling and airflow."),
}

// Recommend derives operator advice from grouped results.
func Recommend(domains map[string][]executor.Result) []string {
	var out []string

	names := make([]string, 0, len(domains))
	for domain := range domains {
		names = append(names, domain)
	}
	sort.Strings(names)

	statuses := make([]report.Status, 0)

	for _, domain := range names {
		results := append([]executor.Result(nil), domains[domain]...)
		sort.SliceStable(results, func(i, j int) bool { return results[i].Sensor < results[j].Sensor })

		for _, res := range results {
			status := report.Classify(res)
			statuses = append(statuses, status)
			if status == report.StatusHealthy {
				continue
			}

			if advice := adviceFor(domain, res); advice != "" {
				out = append(out, advice)
			}
		}
	}

	switch report.Worst(statuses...) {
	case report.StatusUnhealthy:
		out = append(out, "System health is critical. Immediate attention required.")
	case report.StatusDegraded:
		out = append(out, "System health shows warning signs. Monitor closely and address issues.")
	case report.StatusHealthy:
		out = append(out, "System appears to be operating normally.")
	}

	return out
}

func adviceFor(domain string, res executor.Result) string {
	detail := ""
	if res.Error != nil {
		detail = res.Error.Message
	}

	if domain != DomainSensors {
		if res.Status == executor.StatusTimeout {
			return fmt.Sprintf("Diagnostic %s timed out. Check system responsiveness.", res.Sensor)
		}
		if advice, ok := probeAdvice[res.Sensor]; ok {
			if detail == "" {
				detail = "see report"
			}

			return advice(detail)
		}

		return fmt.Sprintf("Diagnostic %s did not pass: %s", res.Sensor, detail)
	}

	switch res.Status {
	case executor.StatusTimeout:
		return fmt.Sprintf("Sensor %s did not respond to %s in time. Check connection and power.", res.Sensor, res.Kind)
	case executor.StatusSkipped:
		return fmt.Sprintf("Sensor %s is being skipped after repeated failures.", res.Sensor)
	case executor.StatusFailure:
		return fmt.Sprintf("Sensor %s failed %s: %s", res.Sensor, res.Kind, detail)
	case executor.StatusSuccess:
		if res.Health != nil && !res.Health.Healthy {
			return fmt.Sprintf("Sensor %s reports unhealthy status: %s", res.Sensor, res.Health.Status)
		}
	}

	return ""
}
