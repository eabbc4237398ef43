package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Lane is a regular route the dispatch office books loads on.
type Lane struct {
	From string
	To   string
}

var lanes = []Lane{
	{From: "Pune", To: "Nagpur"},
	{From: "Mumbai", To: "Ahmedabad"},
	{From: "Nashik", To: "Indore"},
	{From: "Aurangabad", To: "Hyderabad"},
	{From: "Kolhapur", To: "Bengaluru"},
	{From: "Solapur", To: "Raipur"},
}

var parties = []struct {
	Name   string
	Mobile string
}{
	{"Shree Traders", "9822000001"},
	{"Balaji Agro", "9822000002"},
	{"Sai Cement Depot", "9822000003"},
	{"Mahalaxmi Steels", "9822000004"},
}

var motorOwners = []struct {
	Name   string
	Mobile string
}{
	{"Ramesh Patil", "9876543210"},
	{"Suresh Jadhav", "9876543211"},
	{"Ganesh Pawar", "9876543212"},
}

// dispatcher talks to the ledger API as one signed-in clerk.
type dispatcher struct {
	apiURL string
	token  string
	client *http.Client
}

func newDispatcher(apiURL, token string) *dispatcher {
	return &dispatcher{apiURL: apiURL, token: token, client: &http.Client{Timeout: 10 * time.Second}}
}

func (d *dispatcher) authorizedRequest(method, url string, body *bytes.Buffer) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = body
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}
	return d.client.Do(req)
}

func (d *dispatcher) authorizedPost(url string, body *bytes.Buffer) (*http.Response, error) {
	return d.authorizedRequest(http.MethodPost, url, body)
}

func (d *dispatcher) authorizedPut(url string, body *bytes.Buffer) (*http.Response, error) {
	return d.authorizedRequest(http.MethodPut, url, body)
}

// login exchanges credentials for a bearer token and keeps it.
func (d *dispatcher) login(email, password string) error {
	data, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return fmt.Errorf("failed to marshal login: %w", err)
	}
	resp, err := d.authorizedPost(d.apiURL+"/auth/login", bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to log in: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login failed with status: %d", resp.StatusCode)
	}

	var result struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode login response: %w", err)
	}
	if result.AccessToken == "" {
		return fmt.Errorf("login response carried no token")
	}
	d.token = result.AccessToken
	return nil
}

// randomTrip builds a plausible booking. Roughly a third of the loads go
// on the company's own vehicles.
func randomTrip(rng *rand.Rand, loadingDate time.Time) map[string]any {
	lane := lanes[rng.Intn(len(lanes))]
	party := parties[rng.Intn(len(parties))]
	freight := 20000 + rng.Intn(60)*1000

	trip := map[string]any{
		"loading_date":   loadingDate.Format("2006-01-02"),
		"vehicle_number": fmt.Sprintf("MH%02d%c%c%04d", 1+rng.Intn(50), 'A'+rune(rng.Intn(26)), 'A'+rune(rng.Intn(26)), rng.Intn(10000)),
		"driver_mobile":  fmt.Sprintf("90%08d", rng.Intn(100000000)),
		"party_name":     party.Name,
		"party_mobile":   party.Mobile,
		"party_freight":  freight,
		"party_advance":  rng.Intn(freight/2/1000+1) * 1000,
		"from_location":  lane.From,
		"to_location":    lane.To,
		"weight":         fmt.Sprintf("%d MT", 5+rng.Intn(25)),
	}
	if rng.Intn(3) == 0 {
		trip["is_own_vehicle"] = true
		return trip
	}
	owner := motorOwners[rng.Intn(len(motorOwners))]
	bhada := freight * (70 + rng.Intn(20)) / 100
	trip["is_own_vehicle"] = false
	trip["motor_owner_name"] = owner.Name
	trip["motor_owner_mobile"] = owner.Mobile
	trip["gadi_bhada"] = bhada
	trip["gadi_advance"] = rng.Intn(bhada/2/1000+1) * 1000
	return trip
}

// createTrip books one trip and returns the identifier the server assigned.
func (d *dispatcher) createTrip(trip map[string]any) (string, error) {
	data, err := json.Marshal(trip)
	if err != nil {
		return "", fmt.Errorf("failed to marshal trip: %w", err)
	}
	resp, err := d.authorizedPost(d.apiURL+"/trips", bytes.NewBuffer(data))
	if err != nil {
		return "", fmt.Errorf("failed to create trip: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("trip creation failed with status: %d", resp.StatusCode)
	}

	var result struct {
		TripID string `json:"trip_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if result.TripID == "" {
		return "", fmt.Errorf("invalid trip ID in response")
	}
	return result.TripID, nil
}

// recordAdvance sends a partial update carrying only the new party advance.
func (d *dispatcher) recordAdvance(tripID string, advance int) error {
	data, err := json.Marshal(map[string]any{"party_advance": advance})
	if err != nil {
		return err
	}
	resp, err := d.authorizedPut(d.apiURL+"/trips/"+tripID, bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to update trip: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("trip update failed with status: %d", resp.StatusCode)
	}
	return nil
}

// report summarizes one dispatch run.
type report struct {
	Created    []string
	Failed     int
	Updated    int
	Duplicates []string
}

// duplicates returns every identifier that occurs more than once, sorted.
func duplicates(ids []string) []string {
	seen := make(map[string]int, len(ids))
	for _, id := range ids {
		seen[id]++
	}
	var dups []string
	for id, n := range seen {
		if n > 1 {
			dups = append(dups, id)
		}
	}
	sort.Strings(dups)
	return dups
}

// dispatch books trips from workers goroutines at once, then records a
// further advance against every other booked trip.
func (d *dispatcher) dispatch(trips, workers int, seed int64) report {
	if workers < 1 {
		workers = 1
	}
	jobs := make(chan map[string]any)
	var (
		mu  sync.Mutex
		rep report
		wg  sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for trip := range jobs {
				id, err := d.createTrip(trip)
				mu.Lock()
				if err != nil {
					rep.Failed++
					log.WithError(err).Warn("Failed to create trip")
				} else {
					rep.Created = append(rep.Created, id)
				}
				mu.Unlock()
			}
		}()
	}

	rng := rand.New(rand.NewSource(seed))
	today := time.Now().UTC()
	for i := 0; i < trips; i++ {
		jobs <- randomTrip(rng, today.AddDate(0, 0, -rng.Intn(28)))
	}
	close(jobs)
	wg.Wait()

	for i, id := range rep.Created {
		if i%2 != 0 {
			continue
		}
		if err := d.recordAdvance(id, 1000*(1+rng.Intn(10))); err != nil {
			log.WithError(err).WithField("trip_id", id).Warn("Failed to record advance")
			continue
		}
		rep.Updated++
	}
	rep.Duplicates = duplicates(rep.Created)
	return rep
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func main() {
	apiURL := os.Getenv("API_BASE_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080/api"
	}
	trips := envInt("SIM_TRIPS", 50)
	workers := envInt("SIM_CONCURRENCY", 8)

	d := newDispatcher(apiURL, os.Getenv("SIM_AUTH_TOKEN"))
	if d.token == "" {
		if err := d.login(os.Getenv("SIM_EMAIL"), os.Getenv("SIM_PASSWORD")); err != nil {
			log.WithError(err).Fatal("Set SIM_AUTH_TOKEN or SIM_EMAIL/SIM_PASSWORD for a user or admin account")
		}
	}

	log.WithFields(log.Fields{
		"trips":       trips,
		"concurrency": workers,
		"api_url":     apiURL,
	}).Info("Starting dispatch simulation")

	start := time.Now()
	rep := d.dispatch(trips, workers, time.Now().UnixNano())

	entry := log.WithFields(log.Fields{
		"created":  len(rep.Created),
		"failed":   rep.Failed,
		"updated":  rep.Updated,
		"duration": time.Since(start).Round(time.Millisecond),
	})
	if len(rep.Duplicates) > 0 {
		entry.WithField("duplicates", rep.Duplicates).Error("Duplicate trip IDs allocated")
		os.Exit(1)
	}
	entry.Info("Dispatch simulation completed, all trip IDs distinct")
}
