package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/MTES-MCT/trackdechets-sub032/client"
)

// Demo companies seeded by the service with -seed.
const (
	producerSiret    = "11111111100011"
	transporterSiret = "22222222200022"
	destinationSiret = "55555555500055"
)

type bsdResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type outcomeResponse struct {
	Bordereau bsdResponse `json:"bordereau"`
	To        string      `json:"to"`
	NoOp      bool        `json:"noOp"`
}

type RequestResult struct {
	Name     string
	Method   string
	Endpoint string
	Status   string
	Latency  time.Duration
}

type step struct {
	name     string
	method   string
	endpoint string // %s is replaced by the bordereau id
	actor    *client.RequestOptions
	body     any
}

func main() {
	baseURL := flag.String("url", "http://127.0.0.1:5000", "Base URL of the service")
	iterations := flag.Int("n", 1, "Number of lifecycles to run")
	label := flag.String("label", "local", "Label used in the CSV file name")
	flag.Parse()

	filename := fmt.Sprintf("bsdbench_%s_n_%d.csv", *label, *iterations)
	file, err := os.Create(filename)
	if err != nil {
		fmt.Printf("Error creating CSV file: %v\n", err)
		return
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"Iteration", "Step", "Method", "Endpoint", "Status", "Latency_ms"}
	if err := writer.Write(header); err != nil {
		fmt.Printf("Error writing CSV header: %v\n", err)
		return
	}

	requestClient := client.NewHTTPClient(*baseURL)

	for i := 0; i < *iterations; i++ {
		fmt.Printf("\n[Iteration %d/%d]\n", i+1, *iterations)
		results, err := runBenchmark(requestClient)
		if err != nil {
			fmt.Printf("Iteration %d aborted: %v\n", i+1, err)
		}

		for _, result := range results {
			record := []string{
				strconv.Itoa(i + 1),
				result.Name,
				result.Method,
				result.Endpoint,
				result.Status,
				strconv.FormatFloat(float64(result.Latency.Microseconds())/1000, 'f', 3, 64),
			}
			if err := writer.Write(record); err != nil {
				fmt.Printf("Error writing record to CSV: %v\n", err)
			}
		}
	}

	fmt.Printf("\nBenchmark complete. Results saved to %s\n", filename)
}

// runBenchmark drives one BSDD from creation to its final operation.
func runBenchmark(requestClient *client.HTTPClient) ([]RequestResult, error) {
	producer := client.AsActor("bench-producer", "Garage Dupont", producerSiret)
	transporter := client.AsActor("bench-transporter", "Transports Martin", transporterSiret)
	destination := client.AsActor("bench-destination", "Incinérateur Est", destinationSiret)

	var results []RequestResult
	totalStart := time.Now()

	start := time.Now()
	var created bsdResponse
	err := requestClient.Do(http.MethodPost, "/bsds", map[string]any{
		"type": "BSDD",
		"fields": map[string]any{
			"emitter.company":     map[string]string{"siret": producerSiret, "name": "Garage Dupont"},
			"destination.company": map[string]string{"siret": destinationSiret, "name": "Incinérateur Est"},
			"transporters":        []map[string]any{{"company": map[string]string{"siret": transporterSiret}}},
			"waste.code":          "16 01 03",
			"waste.description":   "Pneus usagés",
			"waste.quantity":      "12.5",
		},
	}, producer, &created)
	if err != nil {
		return results, err
	}
	results = append(results, RequestResult{
		Name: "Create", Method: http.MethodPost, Endpoint: "/bsds", Status: created.Status, Latency: time.Since(start),
	})
	fmt.Printf("Bordereau : %s [Delay: %v]\n", created.ID, results[0].Latency)

	steps := []step{
		{"Finalize", http.MethodPost, "/bsds/%s/finalize", producer, nil},
		{"Sign Emission", http.MethodPost, "/bsds/%s/sign", producer, map[string]any{"type": "EMISSION"}},
		{"Sign Transport", http.MethodPost, "/bsds/%s/sign", transporter, map[string]any{"type": "TRANSPORT"}},
		{"Sign Reception", http.MethodPost, "/bsds/%s/sign", destination, map[string]any{
			"type": "RECEPTION",
			"fields": map[string]any{
				"destination.reception.acceptationStatus": "ACCEPTED",
				"destination.reception.quantityReceived":  "12.5",
			},
		}},
		{"Sign Operation", http.MethodPost, "/bsds/%s/sign", destination, map[string]any{
			"type":   "OPERATION",
			"fields": map[string]any{"destination.operation.code": "R 1"},
		}},
	}

	for _, s := range steps {
		endpoint := fmt.Sprintf(s.endpoint, created.ID)
		start := time.Now()
		var out outcomeResponse
		if err := requestClient.Do(s.method, endpoint, s.body, s.actor, &out); err != nil {
			return results, fmt.Errorf("%s: %w", s.name, err)
		}
		elapsed := time.Since(start)
		fmt.Printf("%-15s -> %-20s [Delay: %v]\n", s.name, out.To, elapsed)
		results = append(results, RequestResult{
			Name: s.name, Method: s.method, Endpoint: s.endpoint, Status: out.To, Latency: elapsed,
		})
	}

	start = time.Now()
	var events []map[string]any
	if err := requestClient.Do(http.MethodGet, "/bsds/"+created.ID+"/events", nil, nil, &events); err != nil {
		return results, err
	}
	results = append(results, RequestResult{
		Name: "Events", Method: http.MethodGet, Endpoint: "/bsds/%s/events",
		Status: strconv.Itoa(len(events)), Latency: time.Since(start),
	})

	totalElapsed := time.Since(totalStart)
	fmt.Printf("\nTotal lifecycle execution time: %v\n", totalElapsed)

	results = append(results, RequestResult{
		Name:     "Complete Lifecycle",
		Method:   "WORKFLOW",
		Endpoint: "complete-lifecycle",
		Status:   "PROCESSED",
		Latency:  totalElapsed,
	})
	return results, nil
}
